package tds

import (
	"encoding/binary"
	"fmt"
)

// ── Constantes de tipo de token (MS-TDS 2.2.7) ──────────────────────────

const (
	tokenReturnStatus byte = 0x79
	tokenColMetadata  byte = 0x81
	tokenRow          byte = 0xD1
	tokenNbcRow       byte = 0xD2
	tokenReturnValue  byte = 0xAC
	tokenLoginAck     byte = 0xAD
	tokenError        byte = 0xAA
	tokenInfo         byte = 0xAB
	tokenEnvChange    byte = 0xE3
	tokenDone         byte = 0xFD
	tokenDoneProc     byte = 0xFE
	tokenDoneInProc   byte = 0xFF
)

// ── Flags de status DONE/DONEPROC/DONEINPROC (MS-TDS 2.2.7.6) ──────────
//
// Os bits exatos seguem o parser real do driver (go-mssqldb token.go):
// doneMore indica que mais resultados seguem na mesma mensagem lógica,
// doneError marca a presença de um ERROR token associado, doneCount
// indica que RowCount é significativo.
const (
	doneFinal    uint16 = 0x0000
	doneMore     uint16 = 0x0001
	doneError    uint16 = 0x0002
	doneInxact   uint16 = 0x0004
	doneCount    uint16 = 0x0010
	doneAttn     uint16 = 0x0020
	doneSrvError uint16 = 0x0100
)

// Exported aliases of the DONE status bits the cursor flow engine needs
// to branch on directly — the rest stay unexported since only this
// package's own Done helpers (More, HasError) use them.
const (
	DoneAttnFlag  = doneAttn
	DoneCountFlag = doneCount
)

// Tipos de sub-registro ENVCHANGE relevantes a este motor (MS-TDS 2.2.7.9).
const (
	envTypeDatabase        byte = 1
	envTypeLanguage        byte = 2
	envTypeCharset         byte = 3
	envTypePacketSize      byte = 4
	envTypeBeginTransaction byte = 8
	envTypeCommitTransaction byte = 9
	envTypeRollbackTransaction byte = 10
	envTypeEnlistDTC       byte = 11
	envTypeDefectTransaction byte = 12
	envTypeCollation       byte = 19
)

// Message é a variante marcada de mensagem de resposta que o motor de
// cursores consome. Cada implementação corresponde a um token (ou grupo de
// tokens) decodificado do fluxo TDS.
type Message interface {
	isMessage()
}

// DoneMessage corresponde a um token DONE, DONEPROC ou DONEINPROC.
type DoneMessage struct {
	Proc      bool // true para DONEPROC
	InProc    bool
	Status    uint16
	RowCount  uint64
}

func (DoneMessage) isMessage() {}

// More reporta se a flag DONE_MORE está presente.
func (d DoneMessage) More() bool { return d.Status&doneMore != 0 }

// HasError reporta se a flag DONE_ERROR está presente.
func (d DoneMessage) HasError() bool { return d.Status&doneError != 0 }

// ErrorMessage corresponde a um token ERROR (0xAA).
type ErrorMessage struct {
	Number     int32
	State      uint8
	Class      uint8
	Message    string
	ServerName string
	ProcName   string
	LineNumber uint32
}

func (ErrorMessage) isMessage() {}

func (e ErrorMessage) Error() string {
	return fmt.Sprintf("mssql: %s (%d)", e.Message, e.Number)
}

// InfoMessage corresponde a um token INFO (0xAB); mesmo shape do ERROR
// token mas sem significado de falha.
type InfoMessage struct {
	Number     int32
	State      uint8
	Class      uint8
	Message    string
	ServerName string
	ProcName   string
	LineNumber uint32
}

func (InfoMessage) isMessage() {}

// ReturnValueMessage corresponde a um token RETURNVALUE (0xAC) — os
// parâmetros OUT de uma chamada RPC, incluindo o cursor handle, o row
// count de preparação e o valor de retorno do procedimento.
type ReturnValueMessage struct {
	ParamOrdinal uint16
	ParamName    string
	Value        any
}

func (ReturnValueMessage) isMessage() {}

// ReturnStatusMessage corresponde a um token RETURNSTATUS (0x79) — o
// valor de retorno escalar de um procedimento armazenado.
type ReturnStatusMessage struct {
	Value int32
}

func (ReturnStatusMessage) isMessage() {}

// RowMessage corresponde a um token ROW ou NBCROW — sinaliza que uma
// linha de dados chegou; este motor não decodifica o conteúdo da linha,
// apenas observa sua chegada (ver invariante hasSeenRows).
type RowMessage struct{}

func (RowMessage) isMessage() {}

// ColMetadataMessage corresponde a um token COLMETADATA — precede um
// conjunto de linhas.
type ColMetadataMessage struct {
	ColumnCount uint16
}

func (ColMetadataMessage) isMessage() {}

// EnvChangeMessage corresponde a um sub-registro do token ENVCHANGE.
type EnvChangeMessage struct {
	Type     byte
	NewValue []byte
	OldValue []byte
}

func (EnvChangeMessage) isMessage() {}

// Decoder decodifica um payload de token stream já remontado (sem headers
// de pacote) em uma sequência de Message.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder cria um Decoder sobre um payload de token stream completo.
func NewDecoder(payload []byte) *Decoder {
	return &Decoder{buf: payload}
}

// Next decodifica e retorna o próximo token como Message. Retorna
// (nil, errEOF) quando o payload é totalmente consumido; use IsEOF para
// reconhecê-lo.
func (d *Decoder) Next() (Message, error) {
	if d.pos >= len(d.buf) {
		return nil, errEOF
	}

	tokenType := d.buf[d.pos]
	d.pos++

	switch tokenType {
	case tokenDone, tokenDoneProc, tokenDoneInProc:
		return d.parseDone(tokenType)
	case tokenError:
		return d.parseErrorOrInfo(false)
	case tokenInfo:
		return d.parseErrorOrInfo(true)
	case tokenEnvChange:
		return d.parseEnvChange()
	case tokenReturnValue:
		return d.parseReturnValue()
	case tokenReturnStatus:
		return d.parseReturnStatus()
	case tokenColMetadata:
		return d.parseColMetadata()
	case tokenRow, tokenNbcRow:
		// O motor não precisa do conteúdo da linha — apenas avança o
		// cursor de leitura o suficiente para alcançar o próximo token.
		// Sem metadados de coluna o comprimento exato não é recuperável
		// a partir de bytes crus; o transporte de demonstração entrega
		// RowMessage diretamente e nunca passa por este caminho.
		return RowMessage{}, nil
	default:
		return nil, fmt.Errorf("tds: unknown token type 0x%02X at offset %d", tokenType, d.pos-1)
	}
}

// parseDone decodifica o corpo de 12 bytes comum a DONE/DONEPROC/DONEINPROC
// (MS-TDS 2.2.7.6): Status(2) CurCmd(2) RowCount(8).
func (d *Decoder) parseDone(tokenType byte) (Message, error) {
	if d.pos+12 > len(d.buf) {
		return nil, fmt.Errorf("tds: truncated DONE token")
	}
	status := binary.LittleEndian.Uint16(d.buf[d.pos : d.pos+2])
	rowCount := binary.LittleEndian.Uint64(d.buf[d.pos+4 : d.pos+12])
	d.pos += 12

	return DoneMessage{
		Proc:     tokenType == tokenDoneProc,
		InProc:   tokenType == tokenDoneInProc,
		Status:   status,
		RowCount: rowCount,
	}, nil
}

// parseErrorOrInfo decodifica o corpo comum do token ERROR/INFO (MS-TDS
// 2.2.7.9 e 2.2.7.11): Length(2) Number(4) State(1) Class(1) MsgText
// Servername Procname LineNumber(4).
func (d *Decoder) parseErrorOrInfo(isInfo bool) (Message, error) {
	if d.pos+2 > len(d.buf) {
		return nil, fmt.Errorf("tds: truncated ERROR/INFO length")
	}
	tokenLen := int(binary.LittleEndian.Uint16(d.buf[d.pos : d.pos+2]))
	d.pos += 2
	start := d.pos
	if start+tokenLen > len(d.buf) {
		return nil, fmt.Errorf("tds: ERROR/INFO token overflows payload")
	}
	body := d.buf[start : start+tokenLen]
	d.pos = start + tokenLen

	p := 0
	number := int32(binary.LittleEndian.Uint32(body[p : p+4]))
	p += 4
	state := body[p]
	p++
	class := body[p]
	p++

	msg, n, err := readUsVarChar(body, p)
	if err != nil {
		return nil, fmt.Errorf("tds: error message text: %w", err)
	}
	p = n

	server, n, err := readBVarChar(body, p)
	if err != nil {
		return nil, fmt.Errorf("tds: error server name: %w", err)
	}
	p = n

	proc, n, err := readBVarChar(body, p)
	if err != nil {
		return nil, fmt.Errorf("tds: error proc name: %w", err)
	}
	p = n

	var lineNumber uint32
	if p+4 <= len(body) {
		lineNumber = binary.LittleEndian.Uint32(body[p : p+4])
	}

	if isInfo {
		return InfoMessage{Number: number, State: state, Class: class, Message: msg, ServerName: server, ProcName: proc, LineNumber: lineNumber}, nil
	}
	return ErrorMessage{Number: number, State: state, Class: class, Message: msg, ServerName: server, ProcName: proc, LineNumber: lineNumber}, nil
}

// parseEnvChange decodifica um token ENVCHANGE (MS-TDS 2.2.7.8). Apenas o
// tipo e os bytes crus dos valores novo/antigo são extraídos; a decodificação
// semântica (para string, para descriptor de transação) é responsabilidade
// de internal/connstate, que conhece o significado de cada Type.
func (d *Decoder) parseEnvChange() (Message, error) {
	if d.pos+2 > len(d.buf) {
		return nil, fmt.Errorf("tds: truncated ENVCHANGE length")
	}
	tokenLen := int(binary.LittleEndian.Uint16(d.buf[d.pos : d.pos+2]))
	d.pos += 2
	start := d.pos
	if start+tokenLen > len(d.buf) {
		return nil, fmt.Errorf("tds: ENVCHANGE token overflows payload")
	}
	body := d.buf[start : start+tokenLen]
	d.pos = start + tokenLen

	if len(body) < 1 {
		return nil, fmt.Errorf("tds: empty ENVCHANGE body")
	}
	envType := body[0]

	// BeginTransaction/EnlistDTC/CommitTransaction/RollbackTransaction carry
	// a length-prefixed binary descriptor, not a B_VARCHAR; everything else
	// carries B_VARCHAR old/new string pairs.
	switch envType {
	case envTypeBeginTransaction, envTypeEnlistDTC, envTypeCommitTransaction, envTypeRollbackTransaction, envTypeDefectTransaction:
		newVal, n, err := readBVarByte(body, 1)
		if err != nil {
			return nil, fmt.Errorf("tds: envchange transaction descriptor: %w", err)
		}
		oldVal, _, err := readBVarByte(body, n)
		if err != nil {
			oldVal = nil
		}
		return EnvChangeMessage{Type: envType, NewValue: newVal, OldValue: oldVal}, nil
	default:
		newStr, n, err := readBVarChar(body, 1)
		if err != nil {
			return nil, fmt.Errorf("tds: envchange new value: %w", err)
		}
		oldStr, _, err := readBVarChar(body, n)
		if err != nil {
			oldStr = ""
		}
		return EnvChangeMessage{Type: envType, NewValue: []byte(newStr), OldValue: []byte(oldStr)}, nil
	}
}

// parseReturnValue decodifica um token RETURNVALUE (MS-TDS 2.2.7.16). O
// layout exato dos campos de TypeInfo/valor varia por tipo SQL; o valor é
// decodificado por decodeTypedValue (typeinfo.go) em um valor Go nativo,
// que internal/valuecodec depois apenas converte para o tipo pedido.
func (d *Decoder) parseReturnValue() (Message, error) {
	if d.pos+2 > len(d.buf) {
		return nil, fmt.Errorf("tds: truncated RETURNVALUE ordinal")
	}
	ordinal := binary.LittleEndian.Uint16(d.buf[d.pos : d.pos+2])
	d.pos += 2

	name, n, err := readBVarChar(d.buf, d.pos)
	if err != nil {
		return nil, fmt.Errorf("tds: returnvalue param name: %w", err)
	}
	d.pos = n

	if d.pos+1 > len(d.buf) {
		return nil, fmt.Errorf("tds: truncated RETURNVALUE status byte")
	}
	d.pos++ // Status byte (output flag), ignored — RETURNVALUE is always OUT.

	if d.pos+6 > len(d.buf) {
		return nil, fmt.Errorf("tds: truncated RETURNVALUE usertype/flags")
	}
	d.pos += 4 // UserType (uint32 LE), unused.
	d.pos += 2 // Flags (uint16 LE), unused.

	value, n, err := decodeTypedValue(d.buf, d.pos)
	if err != nil {
		return nil, fmt.Errorf("tds: returnvalue value: %w", err)
	}
	d.pos = n

	return ReturnValueMessage{ParamOrdinal: ordinal, ParamName: name, Value: value}, nil
}

func (d *Decoder) parseReturnStatus() (Message, error) {
	if d.pos+4 > len(d.buf) {
		return nil, fmt.Errorf("tds: truncated RETURNSTATUS")
	}
	v := int32(binary.LittleEndian.Uint32(d.buf[d.pos : d.pos+4]))
	d.pos += 4
	return ReturnStatusMessage{Value: v}, nil
}

func (d *Decoder) parseColMetadata() (Message, error) {
	if d.pos+2 > len(d.buf) {
		return nil, fmt.Errorf("tds: truncated COLMETADATA count")
	}
	count := binary.LittleEndian.Uint16(d.buf[d.pos : d.pos+2])
	d.pos += 2
	// Column descriptor parsing is out of scope: this engine never reads
	// row contents, only observes that a row set started.
	d.pos = len(d.buf)
	return ColMetadataMessage{ColumnCount: count}, nil
}

var errEOF = fmt.Errorf("tds: end of token stream")

// IsEOF reports whether err is the decoder's end-of-stream sentinel.
func IsEOF(err error) bool { return err == errEOF }

func readBVarChar(buf []byte, pos int) (string, int, error) {
	if pos >= len(buf) {
		return "", pos, fmt.Errorf("truncated B_VARCHAR length")
	}
	charLen := int(buf[pos])
	pos++
	byteLen := charLen * 2
	if pos+byteLen > len(buf) {
		return "", pos, fmt.Errorf("B_VARCHAR overflows buffer")
	}
	s, err := decodeUTF16LE(buf[pos : pos+byteLen])
	return s, pos + byteLen, err
}

func readBVarByte(buf []byte, pos int) ([]byte, int, error) {
	if pos >= len(buf) {
		return nil, pos, fmt.Errorf("truncated B_VARBYTE length")
	}
	n := int(buf[pos])
	pos++
	if pos+n > len(buf) {
		return nil, pos, fmt.Errorf("B_VARBYTE overflows buffer")
	}
	return append([]byte(nil), buf[pos:pos+n]...), pos + n, nil
}

func readUsVarChar(buf []byte, pos int) (string, int, error) {
	if pos+2 > len(buf) {
		return "", pos, fmt.Errorf("truncated US_VARCHAR length")
	}
	charLen := int(binary.LittleEndian.Uint16(buf[pos : pos+2]))
	pos += 2
	byteLen := charLen * 2
	if pos+byteLen > len(buf) {
		return "", pos, fmt.Errorf("US_VARCHAR overflows buffer")
	}
	s, err := decodeUTF16LE(buf[pos : pos+byteLen])
	return s, pos + byteLen, err
}
