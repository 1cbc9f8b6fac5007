//go:build windows

package fileops

// isCrossDevice is unreachable in practice on Windows for the single-volume
// deployments this system targets; os.Rename failures are surfaced as-is.
func isCrossDevice(err error) bool {
	return false
}
