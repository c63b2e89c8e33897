package lsp

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// OpenDocument is a document the server currently considers open.
type OpenDocument struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int32  `json:"version"`
	Length     int    `json:"length"`
	Hash       uint64 `json:"hash"` // xxhash of the text last sent
}

// documentSet tracks at most one OpenDocument per URI.
type documentSet struct {
	mu   sync.Mutex
	docs map[string]OpenDocument
}

func newDocumentSet() *documentSet {
	return &documentSet{docs: make(map[string]OpenDocument)}
}

// Open records uri as open. Re-opening a tracked uri replaces it with the
// version bumped by one. prev and existed describe the replaced entry so
// the caller can roll back if the notification cannot be sent.
func (s *documentSet) Open(uri, languageID, text string) (doc, prev OpenDocument, existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed = s.docs[uri]
	doc = OpenDocument{
		URI:        uri,
		LanguageID: languageID,
		Version:    1,
		Length:     len(text),
		Hash:       xxhash.Sum64String(text),
	}
	if existed {
		doc.Version = prev.Version + 1
	}
	s.docs[uri] = doc
	return doc, prev, existed
}

// Restore undoes an Open.
func (s *documentSet) Restore(uri string, prev OpenDocument, existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existed {
		s.docs[uri] = prev
		return
	}
	delete(s.docs, uri)
}

// Close forgets uri and reports whether it was tracked.
func (s *documentSet) Close(uri string) (OpenDocument, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[uri]
	delete(s.docs, uri)
	return doc, ok
}

// Get returns the tracked entry for uri.
func (s *documentSet) Get(uri string) (OpenDocument, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[uri]
	return doc, ok
}

// List returns the open documents sorted by URI.
func (s *documentSet) List() []OpenDocument {
	s.mu.Lock()
	out := make([]OpenDocument, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// Len returns the number of open documents.
func (s *documentSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

// Reset forgets every document; the server process they were open in is gone.
func (s *documentSet) Reset() {
	s.mu.Lock()
	clear(s.docs)
	s.mu.Unlock()
}
