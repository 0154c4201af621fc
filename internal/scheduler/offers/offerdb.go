package offers

import (
	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
)

const (
	// Offers received from the cluster but not yet seen by a scheduling cycle.
	newOffersTable = "new_offers"
	// Offers held by the scheduler, available for allocation.
	heldOffersTable = "held_offers"
	idIndex         = "id"    // index for looking up offers by id
	agentIndex      = "agent" // index for looking up the offers of a given agent
)

// OfferDb stores resource offers until they're allocated, declined, or rescinded.
// It's implemented on top of https://github.com/hashicorp/go-memdb so that offers arriving from the cluster can be
// recorded concurrently with a scheduling cycle reading them.
type OfferDb struct {
	// Stores *schedulerobjects.ResourceOffer.
	Db *memdb.MemDB
}

func NewOfferDb() (*OfferDb, error) {
	db, err := memdb.NewMemDB(offerDbSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &OfferDb{Db: db}, nil
}

// AddNew records newly received offers. Offers already present are replaced.
func (offerDb *OfferDb) AddNew(offers []*schedulerobjects.ResourceOffer) error {
	txn := offerDb.WriteTxn()
	defer txn.Abort()
	for _, offer := range offers {
		if err := txn.Insert(newOffersTable, offer); err != nil {
			return errors.WithStack(err)
		}
	}
	txn.Commit()
	return nil
}

// TakeNew moves every new offer into the held table and returns the moved offers.
// Offers whose id is already held are dropped.
func (offerDb *OfferDb) TakeNew(txn *memdb.Txn) ([]*schedulerobjects.ResourceOffer, error) {
	newOffers, err := getAll(txn, newOffersTable, idIndex)
	if err != nil {
		return nil, err
	}
	var rv []*schedulerobjects.ResourceOffer
	for _, offer := range newOffers {
		if err := txn.Delete(newOffersTable, offer); err != nil {
			return nil, errors.WithStack(err)
		}
		existing, err := txn.First(heldOffersTable, idIndex, offer.Id)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if existing != nil {
			continue
		}
		if err := txn.Insert(heldOffersTable, offer); err != nil {
			return nil, errors.WithStack(err)
		}
		rv = append(rv, offer)
	}
	return rv, nil
}

// GetHeldForAgent returns the held offers of the given agent, sorted by id.
func (offerDb *OfferDb) GetHeldForAgent(txn *memdb.Txn, agentId string) ([]*schedulerobjects.ResourceOffer, error) {
	return getAll(txn, heldOffersTable, agentIndex, agentId)
}

// GetAllHeld returns every held offer, sorted by id.
func (offerDb *OfferDb) GetAllHeld(txn *memdb.Txn) ([]*schedulerobjects.ResourceOffer, error) {
	return getAll(txn, heldOffersTable, idIndex)
}

// DeleteHeld removes the given offers from the held table.
func (offerDb *OfferDb) DeleteHeld(txn *memdb.Txn, offers []*schedulerobjects.ResourceOffer) error {
	for _, offer := range offers {
		if err := txn.Delete(heldOffersTable, offer); err != nil && !errors.Is(err, memdb.ErrNotFound) {
			return errors.WithStack(err)
		}
	}
	return nil
}

// Remove deletes the offers with the given ids from both tables and returns the held offers that were removed.
func (offerDb *OfferDb) Remove(txn *memdb.Txn, ids []string) ([]*schedulerobjects.ResourceOffer, error) {
	var removed []*schedulerobjects.ResourceOffer
	for _, id := range ids {
		if _, err := txn.DeleteAll(newOffersTable, idIndex, id); err != nil {
			return nil, errors.WithStack(err)
		}
		held, err := txn.First(heldOffersTable, idIndex, id)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if held == nil {
			continue
		}
		offer := held.(*schedulerobjects.ResourceOffer)
		if err := txn.Delete(heldOffersTable, offer); err != nil {
			return nil, errors.WithStack(err)
		}
		removed = append(removed, offer)
	}
	return removed, nil
}

// RemoveAgent deletes every offer of the given agent from both tables.
func (offerDb *OfferDb) RemoveAgent(txn *memdb.Txn, agentId string) error {
	for _, table := range []string{newOffersTable, heldOffersTable} {
		if _, err := txn.DeleteAll(table, agentIndex, agentId); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func (offerDb *OfferDb) ReadTxn() *memdb.Txn {
	return offerDb.Db.Txn(false)
}

func (offerDb *OfferDb) WriteTxn() *memdb.Txn {
	return offerDb.Db.Txn(true)
}

func getAll(txn *memdb.Txn, table string, index string, args ...interface{}) ([]*schedulerobjects.ResourceOffer, error) {
	it, err := txn.Get(table, index, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var rv []*schedulerobjects.ResourceOffer
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rv = append(rv, obj.(*schedulerobjects.ResourceOffer))
	}
	return rv, nil
}

func offerDbSchema() *memdb.DBSchema {
	tables := make(map[string]*memdb.TableSchema)
	for _, name := range []string{newOffersTable, heldOffersTable} {
		indexes := make(map[string]*memdb.IndexSchema)
		indexes[idIndex] = &memdb.IndexSchema{
			Name:    idIndex,
			Unique:  true,
			Indexer: &memdb.StringFieldIndex{Field: "Id"},
		}
		// Non-unique, so entries for the same agent are ordered by id.
		indexes[agentIndex] = &memdb.IndexSchema{
			Name:    agentIndex,
			Unique:  false,
			Indexer: &memdb.StringFieldIndex{Field: "AgentId"},
		}
		tables[name] = &memdb.TableSchema{
			Name:    name,
			Indexes: indexes,
		}
	}
	return &memdb.DBSchema{Tables: tables}
}
