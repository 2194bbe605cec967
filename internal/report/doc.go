// Package report turns runner results into JUnit XML and a console summary.
//
// JUnit output groups results into one <testsuite> per suite, sorted by
// name. A failed assertion becomes an <error type="Assert Failed"> element
// carrying "Assert failed at file:line"; a test that could not be completed
// becomes an <error type="Infrastructure"> element.
package report
