package artifact

import (
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phat-tools/cluster-deployer/utils"
)

var testWasm = []byte("\x00asm\x01\x00\x00\x00")

func contractJSON(name string, wasm []byte, hash string, ctors ...map[string]string) []byte {
	raw, _ := json.Marshal(map[string]interface{}{
		"source":   map[string]string{"hash": hash, "wasm": utils.Hex(wasm), "language": "ink! 4.0.0"},
		"contract": map[string]string{"name": name, "version": "0.1.0"},
		"spec":     map[string]interface{}{"constructors": ctors, "messages": []interface{}{}},
	})
	return raw
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	path := filepath.Join(dir, name)
	require.NoError(t, ioutil.WriteFile(path, data, 0644))
	return path
}

func TestLoadContractFile(t *testing.T) {
	hash := CodeHash(testWasm).Hex()
	path := writeFile(t, t.TempDir(), "tokenomic.contract", contractJSON("tokenomic", testWasm, hash,
		map[string]string{"label": "new", "selector": "0x9bae9d5e"},
		map[string]string{"label": "default", "selector": "0xed4b9d1b"},
	))

	c, err := LoadContractFile(path)
	require.NoError(t, err)
	assert.Equal(t, "tokenomic", c.Name)
	assert.Equal(t, testWasm, c.Wasm)
	assert.Equal(t, hash, c.CodeHash.Hex())
	assert.Equal(t, "0xed4b9d1b", c.Constructor.String())
	assert.Equal(t, "0xed4b9d1b0102", c.InstantiateData([]byte{1, 2}).String())
}

func TestContractConstructorFallsBackToNew(t *testing.T) {
	c, err := ParseContract(contractJSON("qjs", testWasm, "", map[string]string{"label": "new", "selector": "0x9bae9d5e"}))
	require.NoError(t, err)
	assert.Equal(t, "0x9bae9d5e", c.Constructor.String())
}

func TestContractRejects(t *testing.T) {
	_, err := ParseContract(contractJSON("x", testWasm, "", map[string]string{"label": "init", "selector": "0x01"}))
	assert.Error(t, err, "no usable constructor")

	_, err = ParseContract(contractJSON("x", testWasm, "0x1234", map[string]string{"label": "default", "selector": "0x01"}))
	assert.Error(t, err, "hash mismatch")

	_, err = ParseContract(contractJSON("x", nil, "", map[string]string{"label": "default", "selector": "0x01"}))
	assert.Error(t, err, "missing wasm")

	_, err = ParseContract([]byte("{"))
	assert.Error(t, err)
}

func TestLoadSidevmCode(t *testing.T) {
	dir := t.TempDir()
	code, err := LoadSidevmCode(writeFile(t, dir, "raw.wasm", testWasm))
	require.NoError(t, err)
	assert.Equal(t, testWasm, code)

	code, err = LoadSidevmCode(writeFile(t, dir, "hex.wasm", []byte(utils.Hex(testWasm)+"\n")))
	require.NoError(t, err)
	assert.Equal(t, testWasm, code)
}

func TestDeriveContractID(t *testing.T) {
	deployer := common.HexToHash("0xd43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d")
	cluster := common.HexToHash("0x01")
	code := CodeHash(testWasm)

	id := DeriveContractID(deployer, cluster, code, []byte{1, 2, 3, 4})
	assert.Equal(t, utils.Blake2b256(deployer[:], code[:], cluster[:], []byte{1, 2, 3, 4}), id)
	assert.NotEqual(t, id, DeriveContractID(deployer, cluster, code, []byte{1, 2, 3, 5}))
	assert.NotEqual(t, id, DeriveContractID(deployer, common.HexToHash("0x02"), code, []byte{1, 2, 3, 4}))
}

func TestRandomSalt(t *testing.T) {
	a, err := RandomSalt()
	require.NoError(t, err)
	assert.Len(t, a, SaltLength)
}

func TestLoadDrivers(t *testing.T) {
	dir := t.TempDir()
	ctor := map[string]string{"label": "default", "selector": "0xed4b9d1b"}
	for _, name := range []string{FileSystem, FileSidevmDeployer, FileLogServer, FileTokenomic, FileTagBag} {
		writeFile(t, dir, name, contractJSON(name, append(append([]byte{}, testWasm...), name...), "", ctor))
	}
	writeFile(t, dir, FileLogServerSidevm, testWasm)

	d, err := LoadDrivers(dir)
	require.NoError(t, err)
	assert.Equal(t, FileTagBag, d.TagBag.Name)
	assert.Equal(t, testWasm, d.LogServerSidevm)
	assert.Nil(t, d.Qjs)
	assert.NotEqual(t, d.System.CodeHash, d.Tokenomic.CodeHash)

	_, err = LoadDrivers(t.TempDir())
	assert.Error(t, err)
}
