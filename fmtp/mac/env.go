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

package mac

import (
	"fmt"
	"os"
	"strings"

	"github.com/unidata/fmtp/fmtp/ferrors"
)

// ModeFromEnv reads FMTP_MAC_LEVEL/DISABLE_HMAC exactly once, turning
// them into a Mode. This is the single outer-boundary helper the
// REDESIGN FLAGS call for in place of a static singleton selected by
// environment lookups scattered through the library; callers (cmd/)
// invoke this once and thread the resulting Mode through config structs.
func ModeFromEnv() (Mode, error) {
	if truthy(os.Getenv("DISABLE_HMAC")) {
		return ModeOff, nil
	}

	level := os.Getenv("FMTP_MAC_LEVEL")
	switch level {
	case "", "0":
		return ModeOff, nil
	case "1":
		return ModeHMAC, nil
	case "2":
		return ModeDSA, nil
	default:
		return 0, fmt.Errorf("FMTP_MAC_LEVEL=%q is not one of unset, 0, 1, 2: %w", level, ferrors.ErrConfig)
	}
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
