// The main package for the pagemd executable.
package main

import (
	"github.com/quillhq/pagemd/cmd"
)

func main() {
	cmd.Execute()
}
