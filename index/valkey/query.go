package valkey

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/redis/rueidis"

	"github.com/poiesic/docportal/index"
)

func buildCreateArgs(cfg Config) []string {
	attrs := []string{
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(cfg.Dimensions),
		"DISTANCE_METRIC", "COSINE",
	}
	if cfg.M > 0 {
		attrs = append(attrs, "M", strconv.Itoa(cfg.M))
	}
	if cfg.EFConstruction > 0 {
		attrs = append(attrs, "EF_CONSTRUCTION", strconv.Itoa(cfg.EFConstruction))
	}

	args := []string{
		cfg.IndexName, "ON", "HASH",
		"PREFIX", "1", cfg.Prefix,
		"SCHEMA",
		fieldDocumentID, "TAG",
		fieldPosition, "NUMERIC",
		fieldVector, "VECTOR", "HNSW", strconv.Itoa(len(attrs)),
	}
	return append(args, attrs...)
}

func buildKNNArgs(indexName string, vector []float32, topK int, filter index.Filter) []string {
	knn := fmt.Sprintf("[KNN %d @%s $BLOB]", topK, fieldVector)
	query := "*=>" + knn
	if f := buildFilter(filter); f != "" {
		query = fmt.Sprintf("(%s)=>%s", f, knn)
	}

	return []string{
		indexName, query,
		"RETURN", "5", fieldDocumentID, fieldPosition, fieldStart, fieldEnd, fieldScore,
		"LIMIT", "0", strconv.Itoa(topK),
		"PARAMS", "2", "BLOB", vectorToBytes(vector),
		"DIALECT", "2",
	}
}

func buildFilter(filter index.Filter) string {
	if len(filter.DocumentIDs) == 0 {
		return ""
	}
	escaped := make([]string, len(filter.DocumentIDs))
	for n, id := range filter.DocumentIDs {
		escaped[n] = tagEscaper.Replace(id)
	}
	return fmt.Sprintf("@%s:{%s}", fieldDocumentID, strings.Join(escaped, " | "))
}

func recordFields(r index.Record) map[string]string {
	return map[string]string{
		fieldVector:     vectorToBytes(r.Vector),
		fieldDocumentID: r.Metadata.DocumentID,
		fieldPosition:   strconv.Itoa(r.Metadata.Position),
		fieldStart:      strconv.Itoa(r.Metadata.Start),
		fieldEnd:        strconv.Itoa(r.Metadata.End),
	}
}

func parseKNNResult(raw []rueidis.RedisMessage, prefix string) ([]index.Match, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	matches := make([]index.Match, 0, total)
	// [total, key1, fields1, key2, fields2, ...]
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		fields, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}
		m := parseFieldPairs(fields)

		distance, err := strconv.ParseFloat(m[fieldScore], 32)
		if err != nil {
			return nil, fmt.Errorf("parse score for %s: %w", key, err)
		}
		matches = append(matches, index.Match{
			ID:    strings.TrimPrefix(key, prefix),
			Score: float32(1 - distance), // cosine distance to similarity
			Metadata: index.Metadata{
				DocumentID: m[fieldDocumentID],
				Position:   atoi(m[fieldPosition]),
				Start:      atoi(m[fieldStart]),
				End:        atoi(m[fieldEnd]),
			},
		})
	}
	return matches, nil
}

func parseFieldPairs(fields []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for j := 0; j+1 < len(fields); j += 2 {
		name, err := fields[j].ToString()
		if err != nil {
			continue
		}
		value, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

var tagEscaper = strings.NewReplacer(
	",", "\\,", ".", "\\.", "<", "\\<", ">", "\\>",
	"{", "\\{", "}", "\\}", "\"", "\\\"", "'", "\\'",
	":", "\\:", ";", "\\;", "!", "\\!", "@", "\\@",
	"#", "\\#", "$", "\\$", "%", "\\%", "^", "\\^",
	"&", "\\&", "*", "\\*", "(", "\\(", ")", "\\)",
	"-", "\\-", "+", "\\+", "=", "\\=", "~", "\\~",
	" ", "\\ ", "|", "\\|",
)

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

func bytesToVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errMalformedVector
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
