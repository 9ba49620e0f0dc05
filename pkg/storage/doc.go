/*
Package storage provides BoltDB-backed persistence for Cradle's durable state.

Three buckets hold everything the lifecycle core owns:

	instances   live container rows, keyed by engine container id
	settings    container settings key/value rows
	challenges  challenge definitions (collaborator data, read-mostly)

All rows are JSON-serialized. Reads use db.View, writes use db.Update; BoltDB
serializes write transactions, which is what makes InsertInstance's
check-and-insert atomic: the uniqueness scan and the Put happen inside one
transaction, so two racing creators cannot both commit. The loser gets a
DuplicateOwnerError naming the surviving instance.

Uniqueness enforced by InsertInstance:

  - one instance per (challenge, owner) pair, always
  - one instance per owner across all challenges under the "user" and "team"
    assignment modes ("unlimited" skips the cross-challenge check)

UpdateExpiry keeps the stored expiry monotonic: a write that would move it
backwards is ignored and the later value is returned. Deletes are idempotent.

# Usage

	store, err := storage.NewBoltStore("/var/lib/cradle")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	inst := &types.Instance{
		ContainerID: "f3a9...",
		ChallengeID: "web-01",
		Owner:       types.UserOwner("42"),
		Port:        32768,
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(45 * time.Minute).Unix(),
	}
	err = store.InsertInstance(inst, types.AssignmentUser)
*/
package storage
