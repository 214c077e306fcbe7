// Package extract converts raw document bytes into normalized text.
//
// Full OCR and binary office formats are outside this module; a Registry
// ships plaintext, markdown and HTML extractors and accepts additional
// FormatExtractor implementations for other formats.
package extract
