package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/rushairer/jsonsink"
)

const maxLineSize = 16 * 1024 * 1024

// envelope 带显式ID的输入行：{"id": ..., "payload": ...}
type envelope struct {
	ID      json.RawMessage `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// readRecords 逐行读取 NDJSON，每个非空行产出一条记录
// 行是带 id 与 payload 的对象时使用其ID；否则整行就是负载，ID 为 line-N。
// 非法 JSON 行照样产出，由写入器判为 MalformedPayload。
func readRecords(r io.Reader, emit func(jsonsink.Record) error) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	n, lineNo := 0, 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := emit(parseLine(lineNo, line)); err != nil {
			return n, err
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("read input line %d: %w", lineNo+1, err)
	}
	return n, nil
}

func parseLine(lineNo int, line []byte) jsonsink.Record {
	fallback := jsonsink.Record{ID: "line-" + strconv.Itoa(lineNo), Payload: string(line)}

	if line[0] != '{' {
		return fallback
	}
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil || env.ID == nil || env.Payload == nil {
		return fallback
	}
	id, ok := idString(env.ID)
	if !ok {
		return fallback
	}

	// 字符串负载按原文写入（可能本身就不是 JSON），其他类型保留原始 JSON 文本
	var s string
	if err := json.Unmarshal(env.Payload, &s); err == nil {
		return jsonsink.Record{ID: id, Payload: s}
	}
	return jsonsink.Record{ID: id, Payload: string(env.Payload)}
}

func idString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}
