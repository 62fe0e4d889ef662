// Command mailmerge runs mail merges locally: one personalized document per
// roster row, collected into a ZIP archive.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
