// Copyright 2025 Poiesic Systems
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


package core

import (
	"fmt"
)

// ValidatePassage validates a Passage before it is written to a store.
//
// Validation rules:
//   - Content must not be empty
//   - Id must equal IDFromContent(Content)
//   - Vector must be populated
//
// NOT validated:
//   - Source (passages built from readers have no path)
//   - InsertedAt (set by the store)
func ValidatePassage(passage *Passage) error {
	if passage == nil {
		return fmt.Errorf("%w: passage is nil", ErrInvalidPassage)
	}

	if passage.Content == "" {
		return fmt.Errorf("%w: %w", ErrInvalidPassage, ErrEmptyContent)
	}

	if passage.Id != IDFromContent(passage.Content) {
		return fmt.Errorf("%w: %w", ErrInvalidPassage, ErrIDMismatch)
	}

	if len(passage.Vector) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPassage, ErrMissingVector)
	}

	return nil
}
