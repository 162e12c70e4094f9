// Copyright 2025 PolyCrypt GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ledger

import (
	badger "github.com/ipfs/go-ds-badger"
	"github.com/pkg/errors"
)

// OpenBadgerDatastore opens the badger database at path. The returned store
// may be shared with other components, e.g. the agreement registry.
func OpenBadgerDatastore(path string) (*badger.Datastore, error) {
	ds, err := badger.NewDatastore(path, &badger.DefaultOptions)
	if err != nil {
		return nil, errors.Wrapf(err, "opening badger datastore at %s", path)
	}
	return ds, nil
}

// OpenBadger returns a ledger persisted in a badger database at path.
func OpenBadger(path string) (*Ledger, error) {
	ds, err := OpenBadgerDatastore(path)
	if err != nil {
		return nil, err
	}
	return New(ds), nil
}
