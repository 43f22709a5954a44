package models

import "fmt"

const baseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

// Descriptor describes one downloadable whisper model.
type Descriptor struct {
	ID          string
	DisplayName string
	SizeLabel   string
	FileName    string
	URL         string
}

func newDescriptor(id, name, size string) Descriptor {
	file := FileName(id)
	return Descriptor{
		ID:          id,
		DisplayName: name,
		SizeLabel:   size,
		FileName:    file,
		URL:         baseURL + file,
	}
}

var catalog = []Descriptor{
	newDescriptor("tiny.en", "Tiny (English)", "~75 MB"),
	newDescriptor("tiny", "Tiny", "~75 MB"),
	newDescriptor("base.en", "Base (English)", "~142 MB"),
	newDescriptor("base", "Base", "~142 MB"),
	newDescriptor("small.en", "Small (English)", "~466 MB"),
	newDescriptor("small", "Small", "~466 MB"),
	newDescriptor("medium.en", "Medium (English)", "~1.5 GB"),
	newDescriptor("medium", "Medium", "~1.5 GB"),
	newDescriptor("large-v3-turbo", "Large v3 Turbo", "~1.6 GB"),
}

// FileName is the on-disk name for a model id.
func FileName(id string) string {
	return fmt.Sprintf("ggml-%s.bin", id)
}

// Catalog returns the built-in model list in display order.
func Catalog() []Descriptor {
	return append([]Descriptor(nil), catalog...)
}

func Lookup(id string) (Descriptor, bool) {
	for _, d := range catalog {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}
