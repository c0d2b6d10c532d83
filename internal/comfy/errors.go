package comfy

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/url"
	"os"
	"syscall"
)

// Categorize prefixes an error with an actionable label for the user-facing
// message. It exists purely for diagnosis and never changes control flow.
//
//   - transport failures → "Network error": the server is likely not running
//   - non-2xx responses → "Server error": the server answered but failed
//   - shape violations → "API error": probable ComfyUI version mismatch
//   - filesystem errno failures → "IO error": disk space or permissions
//
// Anything else passes through verbatim.
func Categorize(err error) string {
	if err == nil {
		return ""
	}

	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return "API error: " + err.Error() + " — this usually means a ComfyUI version mismatch."
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return "Server error: " + err.Error() + " — check the ComfyUI server logs."
	}

	if isNetworkError(err) {
		return "Network error: " + err.Error() + " — check that ComfyUI is running and the COMFYUI_URL setting is correct."
	}

	if isIOError(err) {
		return "IO error: " + err.Error() + " — check disk space and file permissions."
	}

	return err.Error()
}

func isNetworkError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func isIOError(err error) bool {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return true
	}
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EACCES) {
		return true
	}
	var pathErr *fs.PathError
	return errors.As(err, &pathErr)
}
