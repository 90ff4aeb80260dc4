package pipeline

// skipStage aliases this package's Skip type for the test suite. ginkgo also
// exports a Skip identifier, so the suite imports ginkgo by name rather than
// dot-importing it.
type skipStage = Skip
