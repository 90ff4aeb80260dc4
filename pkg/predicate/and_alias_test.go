package predicate

// andFn aliases this package's And function for the test suite. gomega also
// exports an And identifier, so the suite imports gomega by name rather than
// dot-importing it.
var andFn = And
