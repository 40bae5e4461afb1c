// Package court defines the case-status domain shared across subsystems: the
// query and record types, the outcome of a scrape, the error taxonomy, and the
// interfaces implemented by browser, storage and notification adapters.
package court
