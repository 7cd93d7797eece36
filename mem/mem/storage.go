package mem

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// A Storage keeps the data of the guest system.
//
// The storage manages the data in units, similar to pages. No memory is
// allocated for the units that are never touched.
type Storage struct {
	sync.Mutex

	name     string
	unitSize uint64
	capacity uint64
	data     map[uint64][]byte
}

// NewStorage creates a storage object with the specified capacity
func NewStorage(capacity uint64) *Storage {
	return NewNamedStorage("Storage", capacity)
}

// NewNamedStorage creates a storage object that is checkpointed under the
// given name.
func NewNamedStorage(name string, capacity uint64) *Storage {
	storage := new(Storage)

	storage.name = name
	storage.unitSize = 4096
	storage.capacity = capacity
	storage.data = make(map[uint64][]byte)

	return storage
}

// Name returns the name of the storage.
func (s *Storage) Name() string {
	return s.name
}

// Capacity returns the number of bytes the storage can hold.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

func (s *Storage) createOrGetStorageUnit(address uint64) ([]byte, error) {
	if address >= s.capacity {
		return nil, fmt.Errorf(
			"accessing address 0x%x beyond the storage capacity 0x%x",
			address, s.capacity)
	}

	baseAddr, _ := s.parseAddress(address)

	unit, ok := s.data[baseAddr]
	if !ok {
		unit = make([]byte, s.unitSize)
		s.data[baseAddr] = unit
	}

	return unit, nil
}

func (s *Storage) parseAddress(addr uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = addr % s.unitSize
	baseAddr = addr - inUnitAddr

	return
}

// Read returns a copy of length bytes starting from the address.
func (s *Storage) Read(address uint64, length uint64) ([]byte, error) {
	s.Lock()
	defer s.Unlock()

	currAddr := address
	lenLeft := length
	dataOffset := uint64(0)
	res := make([]byte, length)

	for currAddr < address+length {
		unit, err := s.createOrGetStorageUnit(currAddr)
		if err != nil {
			return nil, err
		}

		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenToRead := min(lenLeft, baseAddr+s.unitSize-currAddr)

		copy(res[dataOffset:dataOffset+lenToRead],
			unit[inUnitAddr:inUnitAddr+lenToRead])
		lenLeft -= lenToRead
		dataOffset += lenToRead
		currAddr += lenToRead
	}

	return res, nil
}

// Write copies the data into the storage starting from the address.
func (s *Storage) Write(address uint64, data []byte) error {
	s.Lock()
	defer s.Unlock()

	currAddr := address
	dataOffset := uint64(0)

	for dataOffset < uint64(len(data)) {
		unit, err := s.createOrGetStorageUnit(currAddr)
		if err != nil {
			return err
		}

		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenToWrite := min(
			uint64(len(data))-dataOffset,
			baseAddr+s.unitSize-currAddr,
		)

		copy(unit[inUnitAddr:inUnitAddr+lenToWrite],
			data[dataOffset:dataOffset+lenToWrite])
		dataOffset += lenToWrite
		currAddr += lenToWrite
	}

	return nil
}

type storageUnit struct {
	Base uint64 `json:"base"`
	Data string `json:"data"`
}

type storageState struct {
	UnitSize uint64        `json:"unit_size"`
	Units    []storageUnit `json:"units"`
}

// State returns the touched units, encoded in base64.
func (s *Storage) State() any {
	s.Lock()
	defer s.Unlock()

	bases := make([]uint64, 0, len(s.data))
	for base := range s.data {
		bases = append(bases, base)
	}

	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })

	state := storageState{UnitSize: s.unitSize}
	for _, base := range bases {
		state.Units = append(state.Units, storageUnit{
			Base: base,
			Data: base64.StdEncoding.EncodeToString(s.data[base]),
		})
	}

	return state
}

// SetState replaces the content of the storage.
func (s *Storage) SetState(raw json.RawMessage) error {
	var state storageState
	if err := json.Unmarshal(raw, &state); err != nil {
		return err
	}

	if state.UnitSize != s.unitSize {
		return fmt.Errorf("unit size mismatch: %d vs %d",
			state.UnitSize, s.unitSize)
	}

	s.Lock()
	defer s.Unlock()

	s.data = make(map[uint64][]byte, len(state.Units))
	for _, u := range state.Units {
		data, err := base64.StdEncoding.DecodeString(u.Data)
		if err != nil {
			return err
		}

		s.data[u.Base] = data
	}

	return nil
}
