package value

// equalFn aliases this package's Equal function for the test suite. gomega
// also exports an Equal identifier, so the suite imports gomega by name rather
// than dot-importing it.
var equalFn = Equal
