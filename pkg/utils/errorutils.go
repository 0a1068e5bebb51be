// Copyright (c) 2021-2024 SigScalr, Inc.
//
// This file is part of SigLens Observability Solution
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package utils

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// TeeErrorf logs the error and returns it, so callers can propagate without
// logging again at every level.
func TeeErrorf(format string, args ...interface{}) error {
	err := fmt.Errorf(format, args...)
	log.Error(err.Error())

	return err
}

// CombineErrors collapses a batch of errors into one. Nil entries are skipped.
// Used on release paths where every resource must be torn down before any
// failure is reported.
func CombineErrors(errs []error) error {
	nonNil := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}

	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	}

	msgs := make([]string, len(nonNil))
	for i, err := range nonNil {
		msgs[i] = err.Error()
	}
	return fmt.Errorf("%d errors occurred: %s", len(nonNil), strings.Join(msgs, "; "))
}
