// ynab-butler imports payment platform exports into a YNAB budget,
// either from local files (--files) or from a mailbox.
package main

import "os"

func main() {
	os.Exit(run(os.Args[1:]))
}
