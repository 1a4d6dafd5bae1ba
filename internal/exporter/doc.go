// Package exporter renders standardized datasets as CSV report tables and
// spreadsheet workbooks.
package exporter
