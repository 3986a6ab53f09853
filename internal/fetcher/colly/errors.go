package collyfetcher

import "fmt"

func httpStatusError(status int) error {
	return fmt.Errorf("status %d", status)
}

func mimeRejectedError(contentType string) error {
	return fmt.Errorf("mime %q not allowed", contentType)
}

func bodyTooLargeError(max int64) error {
	return fmt.Errorf("body exceeds %d bytes", max)
}
