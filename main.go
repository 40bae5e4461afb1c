// The main package for the court-scraper executable.
package main

import (
	"github.com/JakeFAU/court-case-scraper/cmd"
)

func main() {
	cmd.Execute()
}
