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


// Package storage provides the storage abstraction layer for document passages.
//
// This package defines the PassageStore interface that decouples the vector
// store implementation from ingestion and retrieval. Public constructors in
// implementation packages return the interface:
//
//	store, err := badger.NewPassageStore("/path/to/store")  // returns storage.PassageStore
//
// Use in tests with in-memory storage:
//
//	store, err := badger.NewMemoryStore()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
// # Thread Safety
//
// All store implementations must be thread-safe and support concurrent
// access from multiple goroutines.
//
// # Serialization
//
// Passages are persisted with a hand-written mus-go codec (see
// MarshalPassage) which keeps the on-disk format compact and
// allocation-light.
package storage
