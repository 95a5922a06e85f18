package main

import (
	"github.com/py2pyd/py2pyd/cmd/py2pyd/internal"
)

func main() {
	internal.Execute()
}
