// Package errors provides the coded diagnostics printed by the stan CLI.
//
// Every diagnostic has a code (e.g. "S001") that maps to a category, a
// short message and a detailed explanation. Errors returned by package
// stan are classified with FromStan; scenario and config errors carry the
// file location they were found at.
//
// # Usage
//
//	err := errors.New("S011").
//	    WithLocation("counter.json", 4, 12).
//	    WithSuggestion("Every derived cell needs a formula")
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR S011: Invalid scenario
//	//
//	//   counter.json:4:12
//	//
//	//      3 │   "derived": {
//	//   →  4 │     "sum": {}
//	//        │            ^
//	//      5 │   }
//	//
//	//   Hint: Every derived cell needs a formula
package errors
