// Package must provides small wrappers around cleanup operations whose
// errors are worth logging but not worth propagating -- closing a file
// after a failed write, removing a scratch file, and so on.
package must

import (
	"io"
	"os"

	"github.com/patchkit-io/patchkit/pkg/logging"
)

// Close closes c, logging (but not returning) any error.
func Close(c io.Closer, logger *logging.Logger) {
	if err := c.Close(); err != nil {
		logger.Warnf("unable to close: %s", err.Error())
	}
}

// OSRemove removes the file at name, logging (but not returning) any error
// other than the file already being absent.
func OSRemove(name string, logger *logging.Logger) {
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		logger.Warnf("unable to remove '%s': %s", name, err.Error())
	}
}

// IOCopy copies from src to dst, logging (but not returning) any error.
func IOCopy(dst io.Writer, src io.Reader, logger *logging.Logger) {
	if _, err := io.Copy(dst, src); err != nil {
		logger.Warnf("unable to copy from source to destination: %s", err.Error())
	}
}
