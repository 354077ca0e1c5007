// Command solo wraps any program into a single-instance application: the
// first invocation for an app id becomes the leader and executes the
// wrapped program once per request; every later invocation forwards its
// arguments and standard input to the leader and exits with the result.
package main

import (
	"context"
	"os"
)

func main() {
	os.Exit(submain(context.Background()))
}
