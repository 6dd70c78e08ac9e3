// Package main is rulectl, the offline tool for rule set documents: it
// validates and migrates documents, publishes the document schema, and
// converts between documents and editable drafts.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
