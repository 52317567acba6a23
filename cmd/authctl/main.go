// Command authctl is the operator CLI for the auth core: key generation,
// account bootstrap, session revocation, configuration review and a load
// test for the refresh record store.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
