package ioengine

import "errors"

// errWatcherUnrecoverable is the poison recorded when the Watcher
// reports an unrecoverable error (ConsumeNotify's cancelSelf), just
// before the root is stopped.
var errWatcherUnrecoverable = errors.New("ioengine: watcher reported an unrecoverable error")
