package jobs

import "errors"

var (
	// ErrNoRecipients aborts a run whose source produced nothing to evaluate.
	ErrNoRecipients = errors.New("no recipients available; pass --recipient or populate ACORN_RECIPIENTS_PATH")

	// ErrMissingCredentials aborts a confirm-send run without sender credentials.
	ErrMissingCredentials = errors.New("ACORN_USERNAME and ACORN_PASSWORD are required for confirm-send mode")

	// ErrNoService is returned when the job has no send service.
	ErrNoService = errors.New("jobs: send service is required")

	// ErrInvalidDate is returned for a target date that is not YYYY-MM-DD.
	ErrInvalidDate = errors.New("jobs: date must be YYYY-MM-DD")
)
