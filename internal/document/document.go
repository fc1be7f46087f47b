// Package document holds a member's local copy of the shared text.
package document

import "sync"

// Document is the local text buffer and the locally selected language.
// The language is never sent to other members.
type Document struct {
	mu       sync.RWMutex
	text     string
	language Language
}

// New creates a document holding the starter template for lang.
func New(lang Language) *Document {
	return &Document{
		text:     lang.Template(),
		language: lang,
	}
}

// Text returns the current text.
func (d *Document) Text() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.text
}

// Set replaces the text and reports whether it changed.
// Setting the same text twice is a no-op.
func (d *Document) Set(text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.text == text {
		return false
	}

	d.text = text

	return true
}

// Language returns the selected language.
func (d *Document) Language() Language {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.language
}

// SetLanguage selects lang. The text switches to lang's template only while it
// still holds the previous language's untouched template; it reports whether
// the text changed.
func (d *Document) SetLanguage(lang Language) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.language == lang {
		return false
	}

	swap := d.text == d.language.Template()
	d.language = lang

	if swap {
		d.text = lang.Template()
	}

	return swap
}
