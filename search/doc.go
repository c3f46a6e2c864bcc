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


// Package search provides multi-query retrieval over per-session passage stores.
//
// The Retriever expands a question into several diversified search queries,
// runs one similarity search per query concurrently on a worker pool and
// merges the hits, dropping duplicates while keeping first-seen order.
//
// The IndexCache hands out store handles keyed by session and path. BadgerDB
// holds a directory lock, so every component that touches a session's store
// goes through the same cache and a directory is opened at most once.
package search
