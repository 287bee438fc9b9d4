package spacesync

import (
	"encoding/json"
	"flag"
	"testing"

	"github.com/go-playground/assert/v2"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

func TestIdOrder(t *testing.T) {
	// ulids are ordered by create time
	// we use this property to order ids minted by the same source

	a := NewId()
	for i := 0; i < 64*1024; i++ {
		b := NewId()
		assert.Equal(t, a.LessThan(b), true)
		assert.Equal(t, b.LessThan(a), false)
		a = b
	}
}

func TestIdJsonCodec(t *testing.T) {
	type Wrapper struct {
		Id Id `json:"id"`
	}

	a := NewId()
	wrapper := &Wrapper{
		Id: a,
	}

	wrapperJson, err := json.Marshal(wrapper)
	assert.Equal(t, err, nil)

	decoded := &Wrapper{}
	err = json.Unmarshal(wrapperJson, decoded)
	assert.Equal(t, err, nil)
	assert.Equal(t, a, decoded.Id)
}

func TestIdBytes(t *testing.T) {
	a := NewId()
	b, err := IdFromBytes(a.Bytes())
	assert.Equal(t, err, nil)
	assert.Equal(t, a, b)

	_, err = IdFromBytes([]byte{0x01, 0x02})
	assert.NotEqual(t, err, nil)

	c, err := ParseId(a.String())
	assert.Equal(t, err, nil)
	assert.Equal(t, a, c)
}
