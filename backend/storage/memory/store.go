package memory

import (
	"errors"
	"sync"
	"time"

	"github.com/meetspace/meetspace/backend/model"
)

const maxMessages = 100

var (
	ErrRoomExists   = errors.New("room already exists")
	ErrRoomNotFound = errors.New("room is not found")
)

// MemStore is the room registry. All room state lives here and every mutation
// runs under the store mutex, so concurrent joins, leaves and appends to the
// same room cannot interleave. Nothing survives a process restart.
type MemStore struct {
	mx *sync.Mutex
	db map[string]*roomRecord
}

type roomRecord struct {
	room      model.Room
	nextMsgID int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		mx: &sync.Mutex{},
		db: make(map[string]*roomRecord),
	}
}

// CreateRoom inserts a room with a single-element roster. Room ids are
// caller-supplied and must be unused.
func (ms *MemStore) CreateRoom(roomID, hostConnID, hostName string) (model.Room, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if _, ok := ms.db[roomID]; ok {
		return model.Room{}, ErrRoomExists
	}
	rec := &roomRecord{
		room: model.Room{
			ID:         roomID,
			HostConnID: hostConnID,
			Participants: []model.Participant{
				{ConnID: hostConnID, DisplayName: hostName},
			},
			CreatedAt: time.Now().UTC(),
		},
		nextMsgID: 1,
	}
	ms.db[roomID] = rec
	return rec.snapshot(), nil
}

// GetRoom returns a copy of the room state.
func (ms *MemStore) GetRoom(roomID string) (model.Room, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	rec, ok := ms.db[roomID]
	if !ok {
		return model.Room{}, ErrRoomNotFound
	}
	return rec.snapshot(), nil
}

// DeleteRoom removes the room. Deleting an absent room is a no-op.
func (ms *MemStore) DeleteRoom(roomID string) {
	ms.mx.Lock()
	defer ms.mx.Unlock()
	delete(ms.db, roomID)
}

// AddParticipant appends the participant to the roster and returns the roster
// as it was before the join, i.e. everyone except the caller. Joining twice
// with the same connection id does not duplicate the entry.
func (ms *MemStore) AddParticipant(roomID, connID, name string) ([]model.Participant, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	rec, ok := ms.db[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	others := make([]model.Participant, 0, len(rec.room.Participants))
	for _, p := range rec.room.Participants {
		if p.ConnID == connID {
			return others, nil
		}
		others = append(others, p)
	}
	rec.room.Participants = append(rec.room.Participants, model.Participant{
		ConnID:      connID,
		DisplayName: name,
	})
	return others, nil
}

// RemoveByConn scans all rooms for the connection and removes it from the one
// it belongs to. The scan tolerates connections that never recorded their
// room before closing. The room is deleted in the same critical section when
// its roster empties.
func (ms *MemStore) RemoveByConn(connID string) (model.Departure, bool) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	for roomID, rec := range ms.db {
		for i, p := range rec.room.Participants {
			if p.ConnID != connID {
				continue
			}
			rec.room.Participants = append(rec.room.Participants[:i], rec.room.Participants[i+1:]...)
			dep := model.Departure{
				RoomID:      roomID,
				Participant: p,
				Remaining:   copyParticipants(rec.room.Participants),
			}
			if len(rec.room.Participants) == 0 {
				delete(ms.db, roomID)
				dep.RoomDeleted = true
			}
			return dep, true
		}
	}
	return model.Departure{}, false
}

// AppendMessage resolves the sender name from the roster, assigns the next
// message id, appends with FIFO retention of the newest maxMessages entries
// and returns the stored message plus the connection ids to broadcast to.
func (ms *MemStore) AppendMessage(roomID, senderConnID, text string) (model.Message, []string, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	rec, ok := ms.db[roomID]
	if !ok {
		return model.Message{}, nil, ErrRoomNotFound
	}

	senderName := "Unknown"
	for _, p := range rec.room.Participants {
		if p.ConnID == senderConnID {
			senderName = p.DisplayName
			break
		}
	}

	msg := model.Message{
		ID:           rec.nextMsgID,
		Text:         text,
		SenderConnID: senderConnID,
		SenderName:   senderName,
		Timestamp:    time.Now().UTC(),
	}
	rec.nextMsgID++

	rec.room.Messages = append(rec.room.Messages, msg)
	if n := len(rec.room.Messages); n > maxMessages {
		rec.room.Messages = append(rec.room.Messages[:0:0], rec.room.Messages[n-maxMessages:]...)
	}

	members := make([]string, 0, len(rec.room.Participants))
	for _, p := range rec.room.Participants {
		members = append(members, p.ConnID)
	}
	return msg, members, nil
}

// Messages returns the bounded log snapshot. Unknown rooms yield an empty
// slice, never an error.
func (ms *MemStore) Messages(roomID string) []model.Message {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	rec, ok := ms.db[roomID]
	if !ok {
		return []model.Message{}
	}
	out := make([]model.Message, len(rec.room.Messages))
	copy(out, rec.room.Messages)
	return out
}

func (rr *roomRecord) snapshot() model.Room {
	room := rr.room
	room.Participants = copyParticipants(rr.room.Participants)
	room.Messages = make([]model.Message, len(rr.room.Messages))
	copy(room.Messages, rr.room.Messages)
	return room
}

func copyParticipants(in []model.Participant) []model.Participant {
	out := make([]model.Participant, len(in))
	copy(out, in)
	return out
}
