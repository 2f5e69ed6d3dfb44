// Package storage keeps the deployment journal: what a deployment run already did,
// so that an interrupted run can be resumed without redoing finished steps or
// picking new salts.
package storage

import (
	"encoding/json"
	"io/ioutil"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/phat-tools/cluster-deployer/db"
)

// CodeRecord is an uploaded code blob.
type CodeRecord struct {
	Cluster    common.Hash `json:"cluster" yaml:"cluster"`
	Hash       common.Hash `json:"hash" yaml:"hash"`
	Type       string      `json:"type" yaml:"type"`
	Name       string      `json:"name" yaml:"name"`
	UploadedAt time.Time   `json:"uploadedAt" yaml:"uploadedAt"`
}

// ClusterRecord is a created cluster.
type ClusterRecord struct {
	ID             common.Hash `json:"id" yaml:"id"`
	SystemContract common.Hash `json:"systemContract" yaml:"systemContract"`
	Workers        []string    `json:"workers" yaml:"workers"`
	CreatedAt      time.Time   `json:"createdAt" yaml:"createdAt"`
}

// ContractRecord is a contract instance, planned or instantiated.
type ContractRecord struct {
	Cluster      common.Hash   `json:"cluster" yaml:"cluster"`
	Name         string        `json:"name" yaml:"name"`
	CodeHash     common.Hash   `json:"codeHash" yaml:"codeHash"`
	Salt         hexutil.Bytes `json:"salt" yaml:"salt"`
	Address      common.Hash   `json:"address" yaml:"address"`
	Instantiated bool          `json:"instantiated" yaml:"instantiated"`
}

// DriverRecord binds a system driver name to a contract.
type DriverRecord struct {
	Cluster common.Hash `json:"cluster" yaml:"cluster"`
	Name    string      `json:"name" yaml:"name"`
	Address common.Hash `json:"address" yaml:"address"`
}

// RunRecord is one invocation of a deployment command.
type RunRecord struct {
	ID         string    `json:"id" yaml:"id"`
	Command    string    `json:"command" yaml:"command"`
	Profile    string    `json:"profile" yaml:"profile"`
	StartedAt  time.Time `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty" yaml:"finishedAt,omitempty"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Journal stores records in a db.DB.
type Journal struct {
	db db.DB
}

func NewJournal(db db.DB) *Journal {
	return &Journal{
		db: db,
	}
}

func scopedKey(cluster common.Hash, name string) []byte {
	return []byte(cluster.Hex() + "/" + name)
}

func (j *Journal) put(namespace, key []byte, record interface{}) error {
	value, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return errors.Wrapf(j.db.Set(namespace, key, value), "write %s record", namespace)
}

func (j *Journal) get(namespace, key []byte, record interface{}) (bool, error) {
	value, ok, err := j.db.Get(namespace, key)
	if err != nil || !ok {
		return false, errors.Wrapf(err, "read %s record", namespace)
	}
	return true, errors.Wrapf(json.Unmarshal(value, record), "decode %s record", namespace)
}

func (j *Journal) RecordCode(r *CodeRecord) error {
	return j.put(db.NamespaceCode, scopedKey(r.Cluster, r.Hash.Hex()), r)
}

func (j *Journal) Code(cluster, hash common.Hash) (*CodeRecord, bool, error) {
	r := new(CodeRecord)
	ok, err := j.get(db.NamespaceCode, scopedKey(cluster, hash.Hex()), r)
	return r, ok, err
}

func (j *Journal) RecordCluster(r *ClusterRecord) error {
	return j.put(db.NamespaceCluster, []byte(r.ID.Hex()), r)
}

func (j *Journal) Cluster(id common.Hash) (*ClusterRecord, bool, error) {
	r := new(ClusterRecord)
	ok, err := j.get(db.NamespaceCluster, []byte(id.Hex()), r)
	return r, ok, err
}

func (j *Journal) RecordContract(r *ContractRecord) error {
	return j.put(db.NamespaceContract, scopedKey(r.Cluster, r.Name), r)
}

func (j *Journal) Contract(cluster common.Hash, name string) (*ContractRecord, bool, error) {
	r := new(ContractRecord)
	ok, err := j.get(db.NamespaceContract, scopedKey(cluster, name), r)
	return r, ok, err
}

func (j *Journal) RecordDriver(r *DriverRecord) error {
	return j.put(db.NamespaceDriver, scopedKey(r.Cluster, r.Name), r)
}

// RecordBatch stores the outcome of a batch setup in one transaction: either all
// contracts and drivers are marked or none is.
func (j *Journal) RecordBatch(contracts []*ContractRecord, drivers []*DriverRecord) error {
	tx := j.db.NewTx()
	for _, c := range contracts {
		value, err := json.Marshal(c)
		if err != nil {
			tx.Discard()
			return err
		}
		if err := tx.Set(db.NamespaceContract, scopedKey(c.Cluster, c.Name), value); err != nil {
			tx.Discard()
			return err
		}
	}
	for _, d := range drivers {
		value, err := json.Marshal(d)
		if err != nil {
			tx.Discard()
			return err
		}
		if err := tx.Set(db.NamespaceDriver, scopedKey(d.Cluster, d.Name), value); err != nil {
			tx.Discard()
			return err
		}
	}
	return errors.Wrap(tx.Commit(), "commit batch records")
}

func (j *Journal) StartRun(r *RunRecord) error {
	return j.put(db.NamespaceRun, []byte(r.ID), r)
}

// FinishRun stamps the run with its end time and error, if any.
func (j *Journal) FinishRun(id string, runErr error) error {
	r := new(RunRecord)
	ok, err := j.get(db.NamespaceRun, []byte(id), r)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("unknown run %s", id)
	}
	r.FinishedAt = time.Now()
	if runErr != nil {
		r.Error = runErr.Error()
	}
	return j.put(db.NamespaceRun, []byte(id), r)
}

// Summary is everything the journal holds.
type Summary struct {
	Clusters  []*ClusterRecord  `yaml:"clusters"`
	Codes     []*CodeRecord     `yaml:"codes"`
	Contracts []*ContractRecord `yaml:"contracts"`
	Drivers   []*DriverRecord   `yaml:"drivers"`
	Runs      []*RunRecord      `yaml:"runs"`
}

func scanAll(d db.DB, namespace []byte, newRecord func() interface{}, add func(interface{})) error {
	return d.Scan(namespace, func(key, value []byte) error {
		r := newRecord()
		if err := json.Unmarshal(value, r); err != nil {
			return errors.Wrapf(err, "decode %s record %s", namespace, key)
		}
		add(r)
		return nil
	})
}

func (j *Journal) Summary() (*Summary, error) {
	s := new(Summary)
	steps := []struct {
		namespace []byte
		newRecord func() interface{}
		add       func(interface{})
	}{
		{db.NamespaceCluster, func() interface{} { return new(ClusterRecord) }, func(r interface{}) { s.Clusters = append(s.Clusters, r.(*ClusterRecord)) }},
		{db.NamespaceCode, func() interface{} { return new(CodeRecord) }, func(r interface{}) { s.Codes = append(s.Codes, r.(*CodeRecord)) }},
		{db.NamespaceContract, func() interface{} { return new(ContractRecord) }, func(r interface{}) { s.Contracts = append(s.Contracts, r.(*ContractRecord)) }},
		{db.NamespaceDriver, func() interface{} { return new(DriverRecord) }, func(r interface{}) { s.Drivers = append(s.Drivers, r.(*DriverRecord)) }},
		{db.NamespaceRun, func() interface{} { return new(RunRecord) }, func(r interface{}) { s.Runs = append(s.Runs, r.(*RunRecord)) }},
	}
	for _, step := range steps {
		if err := scanAll(j.db, step.namespace, step.newRecord, step.add); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Export writes the summary as YAML to path.
func (j *Journal) Export(path string) error {
	s, err := j.Summary()
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode summary")
	}
	return ioutil.WriteFile(path, out, 0644)
}
