package sampler

import "codeberg.org/mutker/powermon/internal/errors"

const (
	ErrProcessScan = errors.ErrorCode("sampler_process_scan_failed")
)
