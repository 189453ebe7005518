package wire

// RangeOptions bounds a clear or iterator range. Gt/Gte/Lt/Lte are nil when
// unset (no bound on that side).
type RangeOptions struct {
	Gt      []byte
	Gte     []byte
	Lt      []byte
	Lte     []byte
	Reverse bool
	Limit   int32 // <0 means unbounded
}

func (o *RangeOptions) write(w *writer) {
	w.optBytes(o.Gt)
	w.optBytes(o.Gte)
	w.optBytes(o.Lt)
	w.optBytes(o.Lte)
	w.boolean(o.Reverse)
	w.int32(o.Limit)
}

func readRangeOptions(r *reader) (RangeOptions, error) {
	var o RangeOptions
	var err error
	if o.Gt, err = r.optBytes(); err != nil {
		return o, err
	}
	if o.Gte, err = r.optBytes(); err != nil {
		return o, err
	}
	if o.Lt, err = r.optBytes(); err != nil {
		return o, err
	}
	if o.Lte, err = r.optBytes(); err != nil {
		return o, err
	}
	if o.Reverse, err = r.boolean(); err != nil {
		return o, err
	}
	if o.Limit, err = r.int32(); err != nil {
		return o, err
	}
	return o, nil
}

// IteratorOptions extends RangeOptions with the key/value projection flags.
type IteratorOptions struct {
	RangeOptions
	Keys   bool
	Values bool
}

func (o *IteratorOptions) write(w *writer) {
	o.RangeOptions.write(w)
	w.boolean(o.Keys)
	w.boolean(o.Values)
}

func readIteratorOptions(r *reader) (IteratorOptions, error) {
	rangeOpts, err := readRangeOptions(r)
	if err != nil {
		return IteratorOptions{}, err
	}
	o := IteratorOptions{RangeOptions: rangeOpts}
	if o.Keys, err = r.boolean(); err != nil {
		return o, err
	}
	if o.Values, err = r.boolean(); err != nil {
		return o, err
	}
	return o, nil
}

// BatchOp is one entry of a Batch request.
type BatchOp struct {
	Type  BatchOpType
	Key   []byte
	Value []byte // unset for BatchOpDel
}

// --- Get ---

type GetMsg struct {
	ID  uint32
	Key []byte
}

func (m *GetMsg) Encode() []byte {
	w := &writer{}
	w.uint32(m.ID)
	w.bytes(m.Key)
	return w.buf
}

func DecodeGet(payload []byte) (*GetMsg, error) {
	r := &reader{buf: payload}
	m := &GetMsg{}
	var err error
	if m.ID, err = r.uint32(); err != nil {
		return nil, err
	}
	if m.Key, err = r.bytes(); err != nil {
		return nil, err
	}
	return m, nil
}

// --- GetMany ---

type GetManyMsg struct {
	ID   uint32
	Keys [][]byte
}

func (m *GetManyMsg) Encode() []byte {
	w := &writer{}
	w.uint32(m.ID)
	w.count(len(m.Keys))
	for _, k := range m.Keys {
		w.bytes(k)
	}
	return w.buf
}

func DecodeGetMany(payload []byte) (*GetManyMsg, error) {
	r := &reader{buf: payload}
	m := &GetManyMsg{}
	var err error
	if m.ID, err = r.uint32(); err != nil {
		return nil, err
	}
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	m.Keys = make([][]byte, n)
	for i := range m.Keys {
		if m.Keys[i], err = r.bytes(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// --- Put ---

type PutMsg struct {
	ID    uint32
	Key   []byte
	Value []byte
}

func (m *PutMsg) Encode() []byte {
	w := &writer{}
	w.uint32(m.ID)
	w.bytes(m.Key)
	w.bytes(m.Value)
	return w.buf
}

func DecodePut(payload []byte) (*PutMsg, error) {
	r := &reader{buf: payload}
	m := &PutMsg{}
	var err error
	if m.ID, err = r.uint32(); err != nil {
		return nil, err
	}
	if m.Key, err = r.bytes(); err != nil {
		return nil, err
	}
	if m.Value, err = r.bytes(); err != nil {
		return nil, err
	}
	return m, nil
}

// --- Del ---

type DelMsg struct {
	ID  uint32
	Key []byte
}

func (m *DelMsg) Encode() []byte {
	w := &writer{}
	w.uint32(m.ID)
	w.bytes(m.Key)
	return w.buf
}

func DecodeDel(payload []byte) (*DelMsg, error) {
	r := &reader{buf: payload}
	m := &DelMsg{}
	var err error
	if m.ID, err = r.uint32(); err != nil {
		return nil, err
	}
	if m.Key, err = r.bytes(); err != nil {
		return nil, err
	}
	return m, nil
}

// --- Batch ---

type BatchMsg struct {
	ID  uint32
	Ops []BatchOp
}

func (m *BatchMsg) Encode() []byte {
	w := &writer{}
	w.uint32(m.ID)
	w.count(len(m.Ops))
	for _, op := range m.Ops {
		w.buf = append(w.buf, byte(op.Type))
		w.bytes(op.Key)
		w.optBytes(op.Value)
	}
	return w.buf
}

func DecodeBatch(payload []byte) (*BatchMsg, error) {
	r := &reader{buf: payload}
	m := &BatchMsg{}
	var err error
	if m.ID, err = r.uint32(); err != nil {
		return nil, err
	}
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	m.Ops = make([]BatchOp, n)
	for i := range m.Ops {
		t, err := r.byteVal()
		if err != nil {
			return nil, err
		}
		m.Ops[i].Type = BatchOpType(t)
		if m.Ops[i].Key, err = r.bytes(); err != nil {
			return nil, err
		}
		if m.Ops[i].Value, err = r.optBytes(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// --- Clear ---

type ClearMsg struct {
	ID      uint32
	Options RangeOptions
}

func (m *ClearMsg) Encode() []byte {
	w := &writer{}
	w.uint32(m.ID)
	m.Options.write(w)
	return w.buf
}

func DecodeClear(payload []byte) (*ClearMsg, error) {
	r := &reader{buf: payload}
	m := &ClearMsg{}
	var err error
	if m.ID, err = r.uint32(); err != nil {
		return nil, err
	}
	if m.Options, err = readRangeOptions(r); err != nil {
		return nil, err
	}
	return m, nil
}

// --- Iterator (open/resume) ---

type IteratorMsg struct {
	ID       uint32
	Options  IteratorOptions
	Bookmark []byte // resume-after-reconnect: skip keys up to and including this one
	Seek     []byte // initial seek target, nil if none
	Seq      uint32
}

func (m *IteratorMsg) Encode() []byte {
	w := &writer{}
	w.uint32(m.ID)
	m.Options.write(w)
	w.optBytes(m.Bookmark)
	w.optBytes(m.Seek)
	w.uint32(m.Seq)
	return w.buf
}

func DecodeIterator(payload []byte) (*IteratorMsg, error) {
	r := &reader{buf: payload}
	m := &IteratorMsg{}
	var err error
	if m.ID, err = r.uint32(); err != nil {
		return nil, err
	}
	if m.Options, err = readIteratorOptions(r); err != nil {
		return nil, err
	}
	if m.Bookmark, err = r.optBytes(); err != nil {
		return nil, err
	}
	if m.Seek, err = r.optBytes(); err != nil {
		return nil, err
	}
	if m.Seq, err = r.uint32(); err != nil {
		return nil, err
	}
	return m, nil
}

// --- IteratorSeek ---

type IteratorSeekMsg struct {
	ID     uint32
	Seq    uint32
	Target []byte
}

func (m *IteratorSeekMsg) Encode() []byte {
	w := &writer{}
	w.uint32(m.ID)
	w.uint32(m.Seq)
	w.bytes(m.Target)
	return w.buf
}

func DecodeIteratorSeek(payload []byte) (*IteratorSeekMsg, error) {
	r := &reader{buf: payload}
	m := &IteratorSeekMsg{}
	var err error
	if m.ID, err = r.uint32(); err != nil {
		return nil, err
	}
	if m.Seq, err = r.uint32(); err != nil {
		return nil, err
	}
	if m.Target, err = r.bytes(); err != nil {
		return nil, err
	}
	return m, nil
}

// --- IteratorAck ---

type IteratorAckMsg struct {
	ID       uint32
	Seq      uint32
	Consumed uint32
}

func (m *IteratorAckMsg) Encode() []byte {
	w := &writer{}
	w.uint32(m.ID)
	w.uint32(m.Seq)
	w.uint32(m.Consumed)
	return w.buf
}

func DecodeIteratorAck(payload []byte) (*IteratorAckMsg, error) {
	r := &reader{buf: payload}
	m := &IteratorAckMsg{}
	var err error
	if m.ID, err = r.uint32(); err != nil {
		return nil, err
	}
	if m.Seq, err = r.uint32(); err != nil {
		return nil, err
	}
	if m.Consumed, err = r.uint32(); err != nil {
		return nil, err
	}
	return m, nil
}

// --- IteratorClose ---

type IteratorCloseMsg struct {
	ID uint32
}

func (m *IteratorCloseMsg) Encode() []byte {
	w := &writer{}
	w.uint32(m.ID)
	return w.buf
}

func DecodeIteratorClose(payload []byte) (*IteratorCloseMsg, error) {
	r := &reader{buf: payload}
	m := &IteratorCloseMsg{}
	var err error
	if m.ID, err = r.uint32(); err != nil {
		return nil, err
	}
	return m, nil
}

// --- Callback (reply to get/put/del/batch/clear) ---

type CallbackMsg struct {
	ID    uint32
	Error string // empty means success
	Value []byte // nil means absent; present-but-empty means empty value
}

func (m *CallbackMsg) Encode() []byte {
	w := &writer{}
	w.uint32(m.ID)
	w.optBytes([]byte(m.Error))
	if m.Error != "" {
		// the error/value slots are mutually exclusive on the wire so a
		// failed call never carries a stray value.
		w.optBytes(nil)
		return w.buf
	}
	w.optBytes(m.Value)
	return w.buf
}

func DecodeCallback(payload []byte) (*CallbackMsg, error) {
	r := &reader{buf: payload}
	m := &CallbackMsg{}
	var err error
	if m.ID, err = r.uint32(); err != nil {
		return nil, err
	}
	errBytes, err := r.optBytes()
	if err != nil {
		return nil, err
	}
	m.Error = string(errBytes)
	if m.Value, err = r.optBytes(); err != nil {
		return nil, err
	}
	return m, nil
}

// --- GetManyCallback ---

type GetManyCallbackMsg struct {
	ID     uint32
	Error  string
	Values [][]byte // nil entry means absent for that key
}

func (m *GetManyCallbackMsg) Encode() []byte {
	w := &writer{}
	w.uint32(m.ID)
	w.optBytes([]byte(m.Error))
	w.count(len(m.Values))
	for _, v := range m.Values {
		w.optBytes(v)
	}
	return w.buf
}

func DecodeGetManyCallback(payload []byte) (*GetManyCallbackMsg, error) {
	r := &reader{buf: payload}
	m := &GetManyCallbackMsg{}
	var err error
	if m.ID, err = r.uint32(); err != nil {
		return nil, err
	}
	errBytes, err := r.optBytes()
	if err != nil {
		return nil, err
	}
	m.Error = string(errBytes)
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	m.Values = make([][]byte, n)
	for i := range m.Values {
		if m.Values[i], err = r.optBytes(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// --- IteratorData ---

// IteratorDataMsg carries a batch of entries. Data is a flat sequence: for
// each entry, the requested subset of {key, value} appears in order per the
// iterator's Keys/Values options. An entry with neither requested is a
// count-only advance: it still contributes one empty placeholder element,
// so Data's length (divided by the per-entry stride) always recovers the
// number of entries in the batch, even when nothing was requested.
type IteratorDataMsg struct {
	ID   uint32
	Seq  uint32
	Data [][]byte
}

func (m *IteratorDataMsg) Encode() []byte {
	w := &writer{}
	w.uint32(m.ID)
	w.uint32(m.Seq)
	w.count(len(m.Data))
	for _, d := range m.Data {
		w.bytes(d)
	}
	return w.buf
}

func DecodeIteratorData(payload []byte) (*IteratorDataMsg, error) {
	r := &reader{buf: payload}
	m := &IteratorDataMsg{}
	var err error
	if m.ID, err = r.uint32(); err != nil {
		return nil, err
	}
	if m.Seq, err = r.uint32(); err != nil {
		return nil, err
	}
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	m.Data = make([][]byte, n)
	for i := range m.Data {
		if m.Data[i], err = r.bytes(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// --- IteratorError ---

type IteratorErrorMsg struct {
	ID    uint32
	Seq   uint32
	Error string
}

func (m *IteratorErrorMsg) Encode() []byte {
	w := &writer{}
	w.uint32(m.ID)
	w.uint32(m.Seq)
	w.str(m.Error)
	return w.buf
}

func DecodeIteratorError(payload []byte) (*IteratorErrorMsg, error) {
	r := &reader{buf: payload}
	m := &IteratorErrorMsg{}
	var err error
	if m.ID, err = r.uint32(); err != nil {
		return nil, err
	}
	if m.Seq, err = r.uint32(); err != nil {
		return nil, err
	}
	if m.Error, err = r.str(); err != nil {
		return nil, err
	}
	return m, nil
}

// --- IteratorEnd ---

type IteratorEndMsg struct {
	ID  uint32
	Seq uint32
}

func (m *IteratorEndMsg) Encode() []byte {
	w := &writer{}
	w.uint32(m.ID)
	w.uint32(m.Seq)
	return w.buf
}

func DecodeIteratorEnd(payload []byte) (*IteratorEndMsg, error) {
	r := &reader{buf: payload}
	m := &IteratorEndMsg{}
	var err error
	if m.ID, err = r.uint32(); err != nil {
		return nil, err
	}
	if m.Seq, err = r.uint32(); err != nil {
		return nil, err
	}
	return m, nil
}
