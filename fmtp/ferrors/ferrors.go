/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package ferrors defines the FMTPv3 error taxonomy as sentinel errors
// usable with errors.Is/errors.As.
package ferrors

import "errors"

// Sentinel error classes. Wrap with fmt.Errorf("...: %w", Sentinel) to
// add context while keeping errors.Is(err, Sentinel) working.
var (
	// ErrInvalidArgument: caller violated a precondition.
	ErrInvalidArgument = errors.New("fmtp: invalid argument")
	// ErrConfig: invalid environment variable or unparseable address, fatal at construction.
	ErrConfig = errors.New("fmtp: configuration error")
	// ErrIO: socket read/write failed.
	ErrIO = errors.New("fmtp: io error")
	// ErrCrypto: MAC verification failed.
	ErrCrypto = errors.New("fmtp: crypto error")
	// ErrShutdown: queue or service disabled.
	ErrShutdown = errors.New("fmtp: shut down")
	// ErrBroken: first unrecoverable exception latched on a sender/receiver instance.
	ErrBroken = errors.New("fmtp: broken")
)
