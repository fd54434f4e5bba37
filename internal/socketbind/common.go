package socketbind

import "syscall"

// syscallRawConn is the type net.Dialer.Control hands to platform binding
// code; aliased here so the platform files don't each need their own import.
type syscallRawConn = syscall.RawConn
