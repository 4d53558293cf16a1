// File: main.go
package main

import (
	"github.com/xkilldash9x/cfgate/cmd"
)

func main() {
	cmd.Execute()
}
