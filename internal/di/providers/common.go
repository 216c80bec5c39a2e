// Package providers has the constructors registered in the di container.
package providers

import "time"

// shutdownTimeout bounds the graceful shutdown of each service.
const shutdownTimeout = 30 * time.Second
