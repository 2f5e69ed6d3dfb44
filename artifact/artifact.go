// Package artifact loads compiled ink! contracts and sidevm programs and derives
// the identifiers the ledger gives them.
package artifact

import (
	"crypto/rand"
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/phat-tools/cluster-deployer/utils"
)

// SaltLength is the size of generated instantiation salts.
const SaltLength = 4

// Contract is a compiled ink! contract bundle (.contract file).
type Contract struct {
	Name        string
	CodeHash    common.Hash
	Wasm        []byte
	Constructor hexutil.Bytes
	Metadata    json.RawMessage
}

type contractFile struct {
	Source struct {
		Hash string `json:"hash"`
		Wasm string `json:"wasm"`
	} `json:"source"`
	Contract struct {
		Name string `json:"name"`
	} `json:"contract"`
	Spec struct {
		Constructors []struct {
			Label    string `json:"label"`
			Selector string `json:"selector"`
		} `json:"constructors"`
	} `json:"spec"`
}

// LoadContractFile reads a .contract bundle. The constructor is the one labelled
// "default", or "new" when there is none.
func LoadContractFile(path string) (*Contract, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseContract(raw)
}

// ParseContract decodes the JSON of a .contract bundle.
func ParseContract(raw []byte) (*Contract, error) {
	var f contractFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(err, "decode contract metadata")
	}
	wasm, err := utils.HexToBytes(f.Source.Wasm)
	if err != nil {
		return nil, errors.Wrapf(err, "decode wasm of %q", f.Contract.Name)
	}
	if len(wasm) == 0 {
		return nil, errors.Errorf("contract %q has no wasm, use a .contract bundle", f.Contract.Name)
	}

	c := &Contract{
		Name:     f.Contract.Name,
		CodeHash: CodeHash(wasm),
		Wasm:     wasm,
		Metadata: raw,
	}
	if f.Source.Hash != "" && common.HexToHash(f.Source.Hash) != c.CodeHash {
		return nil, errors.Errorf("contract %q: source.hash %s does not match its wasm (%s)", c.Name, f.Source.Hash, c.CodeHash.Hex())
	}

	selector := ""
	for _, ctor := range f.Spec.Constructors {
		if ctor.Label == "default" {
			selector = ctor.Selector
			break
		}
		if ctor.Label == "new" && selector == "" {
			selector = ctor.Selector
		}
	}
	if selector == "" {
		return nil, errors.Errorf("contract %q has no default or new constructor", c.Name)
	}
	if c.Constructor, err = utils.HexToBytes(selector); err != nil {
		return nil, errors.Wrapf(err, "decode selector of %q", c.Name)
	}
	return c, nil
}

// InstantiateData is the constructor selector followed by already encoded arguments.
func (c *Contract) InstantiateData(args []byte) hexutil.Bytes {
	data := make([]byte, 0, len(c.Constructor)+len(args))
	data = append(data, c.Constructor...)
	return append(data, args...)
}

// LoadSidevmCode reads a sidevm program. Files holding hex text are decoded.
func LoadSidevmCode(path string) ([]byte, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if text := strings.TrimSpace(string(raw)); strings.HasPrefix(text, "0x") {
		return utils.HexToBytes(text)
	}
	return raw, nil
}

// CodeHash is the hash the ledger stores code under.
func CodeHash(code []byte) common.Hash {
	return utils.Blake2b256(code)
}

// DeriveContractID computes the id a contract gets when deployer instantiates
// codeHash with salt in cluster.
func DeriveContractID(deployer, cluster, codeHash common.Hash, salt []byte) common.Hash {
	return utils.Blake2b256(deployer[:], codeHash[:], cluster[:], salt)
}

// RandomSalt returns SaltLength random bytes.
func RandomSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Wrap(err, "generate salt")
	}
	return salt, nil
}

// Driver file names inside a drivers directory.
const (
	FileSystem          = "system.contract"
	FileSidevmDeployer  = "sidevm_deployer.contract"
	FileLogServer       = "log_server.contract"
	FileLogServerSidevm = "log_server.sidevm.wasm"
	FileTokenomic       = "tokenomic.contract"
	FileTagBag          = "tagbag.contract"
	FileQjs             = "qjs.contract"
)

// Drivers is the set of system drivers shipped in a drivers directory.
type Drivers struct {
	System          *Contract
	SidevmDeployer  *Contract
	LogServer       *Contract
	LogServerSidevm []byte
	Tokenomic       *Contract
	TagBag          *Contract
	// Qjs is optional.
	Qjs *Contract
}

// LoadDrivers reads every driver bundle from dir.
func LoadDrivers(dir string) (*Drivers, error) {
	d := new(Drivers)
	for file, dst := range map[string]**Contract{
		FileSystem:         &d.System,
		FileSidevmDeployer: &d.SidevmDeployer,
		FileLogServer:      &d.LogServer,
		FileTokenomic:      &d.Tokenomic,
		FileTagBag:         &d.TagBag,
	} {
		c, err := LoadContractFile(filepath.Join(dir, file))
		if err != nil {
			return nil, errors.Wrapf(err, "load %s", file)
		}
		*dst = c
	}
	sidevm, err := LoadSidevmCode(filepath.Join(dir, FileLogServerSidevm))
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", FileLogServerSidevm)
	}
	d.LogServerSidevm = sidevm
	if qjs, err := LoadContractFile(filepath.Join(dir, FileQjs)); err == nil {
		d.Qjs = qjs
	}
	return d, nil
}
