package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/BaSui01/egoqa/types"
)

// 持久化格式中的字段名。
const (
	fieldQuestion     = "question"
	fieldTruth        = "truth"
	fieldPred         = "pred"
	fieldExpertInfo   = "expert_info"
	fieldAgentPrompts = "agent_prompts"
	fieldResponse     = "response"
)

func optionField(i int) string { return "option " + strconv.Itoa(i) }

var knownFields = func() map[string]bool {
	m := map[string]bool{
		fieldQuestion: true, fieldTruth: true, fieldPred: true,
		fieldExpertInfo: true, fieldAgentPrompts: true, fieldResponse: true,
	}
	for i := 0; i < types.OptionCount; i++ {
		m[optionField(i)] = true
	}
	return m
}()

// field 记录中的一个键值对，保留原始 JSON。
type field struct {
	key   string
	value json.RawMessage
}

// entry 一条记录，字段按文件中的顺序排列。
type entry struct {
	fields []field
}

func (e *entry) get(key string) (json.RawMessage, bool) {
	for _, f := range e.fields {
		if f.key == key {
			return f.value, true
		}
	}
	return nil, false
}

// set 替换已有字段（位置不变）或追加到末尾。
func (e *entry) set(key string, value json.RawMessage) {
	for i := range e.fields {
		if e.fields[i].key == key {
			e.fields[i].value = value
			return
		}
	}
	e.fields = append(e.fields, field{key: key, value: value})
}

func (e *entry) del(key string) bool {
	for i := range e.fields {
		if e.fields[i].key == key {
			e.fields = append(e.fields[:i], e.fields[i+1:]...)
			return true
		}
	}
	return false
}

func (e *entry) has(key string) bool {
	_, ok := e.get(key)
	return ok
}

func (e *entry) status() types.Status {
	hasDetails := e.has(fieldExpertInfo) || e.has(fieldAgentPrompts) || e.has(fieldResponse)
	return types.DeriveStatus(e.has(fieldPred), hasDetails)
}

// markProcessing 写入 processing 标记。
func (e *entry) markProcessing() {
	e.set(fieldPred, json.RawMessage(strconv.Itoa(types.PredictionProcessing)))
}

// applyResult 按 expert_info、agent_prompts、response、pred 的顺序写入结果。
func (e *entry) applyResult(res *types.Result) error {
	for _, kv := range []struct {
		key string
		val map[string]string
	}{
		{fieldExpertInfo, res.ExpertInfo},
		{fieldAgentPrompts, res.AgentPrompts},
		{fieldResponse, res.RawResponses},
	} {
		m := kv.val
		if m == nil {
			m = map[string]string{}
		}
		raw, err := marshalNoEscape(m)
		if err != nil {
			return fmt.Errorf("encode %s: %w", kv.key, err)
		}
		e.set(kv.key, raw)
	}
	e.set(fieldPred, json.RawMessage(strconv.Itoa(res.Prediction)))
	return nil
}

// record 将 entry 解码为题目记录。
func (e *entry) record(id string) (*types.QuestionRecord, error) {
	rec := &types.QuestionRecord{ID: id, Status: e.status()}
	for _, f := range e.fields {
		var err error
		switch f.key {
		case fieldQuestion:
			err = json.Unmarshal(f.value, &rec.Question)
		case fieldTruth:
			if !isNull(f.value) {
				var t int
				if err = json.Unmarshal(f.value, &t); err == nil {
					rec.Truth = &t
				}
			}
		case fieldPred, fieldExpertInfo, fieldAgentPrompts, fieldResponse:
			// 统一在下面处理
		default:
			if idx, ok := optionIndex(f.key); ok {
				err = json.Unmarshal(f.value, &rec.Options[idx])
				break
			}
			if rec.Extra == nil {
				rec.Extra = make(map[string]json.RawMessage)
			}
			rec.Extra[f.key] = f.value
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", types.ErrInvalidRecord, id, f.key, err)
		}
	}

	if rec.Status == types.StatusDone {
		res := &types.Result{}
		raw, _ := e.get(fieldPred)
		if err := json.Unmarshal(raw, &res.Prediction); err != nil {
			return nil, fmt.Errorf("%w: %s.pred: %v", types.ErrInvalidRecord, id, err)
		}
		for key, dst := range map[string]*map[string]string{
			fieldExpertInfo:   &res.ExpertInfo,
			fieldAgentPrompts: &res.AgentPrompts,
			fieldResponse:     &res.RawResponses,
		} {
			raw, ok := e.get(key)
			if !ok || isNull(raw) {
				continue
			}
			if err := json.Unmarshal(raw, dst); err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %v", types.ErrInvalidRecord, id, key, err)
			}
		}
		rec.Result = res
	}
	return rec, nil
}

// entryFromRecord 将题目记录编码为 entry：题目、选项、truth 在前，额外字段按名称排序，结果在后。
func entryFromRecord(rec *types.QuestionRecord) (*entry, error) {
	e := &entry{}
	put := func(key string, v any) error {
		raw, err := marshalNoEscape(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		e.set(key, raw)
		return nil
	}
	if err := put(fieldQuestion, rec.Question); err != nil {
		return nil, err
	}
	for i, opt := range rec.Options {
		if err := put(optionField(i), opt); err != nil {
			return nil, err
		}
	}
	if rec.Truth != nil {
		if err := put(fieldTruth, *rec.Truth); err != nil {
			return nil, err
		}
	}
	for _, k := range sortedKeys(rec.Extra) {
		if knownFields[k] {
			continue
		}
		e.set(k, rec.Extra[k])
	}
	switch {
	case rec.Result != nil && rec.Status != types.StatusProcessing && rec.Status != types.StatusUnclaimed:
		if err := e.applyResult(rec.Result); err != nil {
			return nil, err
		}
	case rec.Status == types.StatusProcessing:
		e.markProcessing()
	}
	return e, nil
}

// splitRecord 拆分为记录 JSON（不含结果）、状态与结果 JSON（未完成时为空）。
// Redis 与 SQL 后端分别保存这三部分。
func splitRecord(rec *types.QuestionRecord) (string, types.Status, string, error) {
	base := rec.Clone()
	status := base.Status
	if status == "" {
		status = types.StatusUnclaimed
	}
	result := base.Result
	base.Status, base.Result = types.StatusUnclaimed, nil

	e, err := entryFromRecord(base)
	if err != nil {
		return "", "", "", err
	}
	raw, err := e.MarshalJSON()
	if err != nil {
		return "", "", "", err
	}
	payload := ""
	if status == types.StatusDone && result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return "", "", "", err
		}
		payload = string(b)
	}
	return string(raw), status, payload, nil
}

// document 整个题库文件：video id -> 记录，保留键顺序。
type document struct {
	order   []string
	entries map[string]*entry
}

func newDocument() *document {
	return &document{entries: make(map[string]*entry)}
}

func (d *document) add(id string, e *entry) {
	if _, exists := d.entries[id]; !exists {
		d.order = append(d.order, id)
	}
	d.entries[id] = e
}

// decodeDocument 解析题库 JSON，保留顶层与记录内的键顺序。
func decodeDocument(data []byte) (*document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	doc := newDocument()
	for dec.More() {
		id, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		e, err := decodeEntry(dec)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", id, err)
		}
		doc.add(id, e)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeEntry(dec *json.Decoder) (*entry, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	e := &entry{}
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		e.set(key, raw)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return e, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected object key, got %v", tok)
	}
	return key, nil
}

// encode 序列化为 4 空格缩进的 JSON。
func (d *document) encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range d.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalNoEscape(id)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if err := d.entries[id].appendJSON(&buf); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "    "); err != nil {
		return nil, fmt.Errorf("indent document: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func (e *entry) appendJSON(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	for j, f := range e.fields {
		if j > 0 {
			buf.WriteByte(',')
		}
		fk, err := marshalNoEscape(f.key)
		if err != nil {
			return err
		}
		buf.Write(fk)
		buf.WriteByte(':')
		buf.Write(f.value)
	}
	buf.WriteByte('}')
	return nil
}

// MarshalJSON 按字段顺序输出紧凑 JSON。
func (e *entry) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := e.appendJSON(&buf); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Compact(&out, buf.Bytes()); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func parseEntry(data []byte) (*entry, error) {
	return decodeEntry(json.NewDecoder(bytes.NewReader(data)))
}

// records 按文件顺序解码全部记录。
func (d *document) records() ([]*types.QuestionRecord, error) {
	out := make([]*types.QuestionRecord, 0, len(d.order))
	for _, id := range d.order {
		rec, err := d.entries[id].record(id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// DecodeRecords 解析题库 JSON 内容。
func DecodeRecords(data []byte) ([]*types.QuestionRecord, error) {
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, err
	}
	return doc.records()
}

// EncodeRecords 将记录序列化为题库 JSON 格式。
func EncodeRecords(records []*types.QuestionRecord) ([]byte, error) {
	doc := newDocument()
	for _, rec := range records {
		e, err := entryFromRecord(rec)
		if err != nil {
			return nil, err
		}
		doc.add(rec.ID, e)
	}
	return doc.encode()
}

func optionIndex(key string) (int, bool) {
	for i := 0; i < types.OptionCount; i++ {
		if key == optionField(i) {
			return i, true
		}
	}
	return 0, false
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

func marshalNoEscape(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
