package dispatch

import "errors"

// ErrAdmissionCancelled is returned by Admit when ctx is cancelled while a
// task is still waiting in the pending queue for its node share.
var ErrAdmissionCancelled = errors.New("dispatch: admission wait cancelled")
