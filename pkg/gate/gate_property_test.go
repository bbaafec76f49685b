package gate_test

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/helm-rem/pkg/crypto"
	"github.com/Mindburn-Labs/helm-rem/pkg/gate"
	"github.com/Mindburn-Labs/helm-rem/pkg/intent"
)

func genHash() gopter.Gen {
	return gen.SliceOfN(intent.HashSize, gen.UInt8()).Map(func(b []uint8) intent.Hash {
		var h intent.Hash
		copy(h[:], b)
		return h
	})
}

// Property: a correctly signed, authorized intent is always granted and the
// token binds the same hash and the key's approver id.
func TestProperty_SignVerifyRoundTrip(t *testing.T) {
	signer, err := crypto.GenerateSigner("prop")
	if err != nil {
		t.Fatal(err)
	}
	g := newGate(t, oracleAnswer(true, nil))

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("signed authorized intents are granted", prop.ForAll(
		func(h intent.Hash, now uint64) bool {
			sig, err := signer.SignIntent(h)
			if err != nil {
				return false
			}
			tok, err := g.Decide(context.Background(), gate.Request{
				IntentHash: h.Bytes(), Signature: sig, VerifyingKey: signer.PublicKeyBytes(), Now: now,
			})
			return err == nil &&
				tok.IntentHash() == h &&
				tok.ApproverID() == sha256.Sum256(signer.PublicKeyBytes()) &&
				tok.ExecutedAt() == now
		},
		genHash(),
		gen.UInt64(),
	))

	properties.TestingRun(t)
}

// Property: flipping any one bit of signature, key or hash never grants.
func TestProperty_BitFlipNeverGrants(t *testing.T) {
	signer, err := crypto.GenerateSigner("prop")
	if err != nil {
		t.Fatal(err)
	}
	g := newGate(t, oracleAnswer(true, nil))

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("single-bit mutation is denied", prop.ForAll(
		func(h intent.Hash, field int, bit int) bool {
			sig, err := signer.SignIntent(h)
			if err != nil {
				return false
			}
			req := gate.Request{IntentHash: h.Bytes(), Signature: sig, VerifyingKey: signer.PublicKeyBytes()}

			var target []byte
			switch field {
			case 0:
				target = req.Signature
			case 1:
				target = req.VerifyingKey
			default:
				target = req.IntentHash
			}
			pos := bit % (len(target) * 8)
			target[pos/8] ^= 1 << (pos % 8)

			_, err = g.Decide(context.Background(), req)
			r := gate.ReasonOf(err)
			return r == gate.ReasonInvalidSignature || r == gate.ReasonHashMismatch
		},
		genHash(),
		gen.IntRange(0, 2),
		gen.IntRange(0, 1<<16),
	))

	properties.TestingRun(t)
}

// Property: a false oracle answer is always InvalidState, never
// InvalidSignature, for otherwise valid requests.
func TestProperty_OracleFalseIsInvalidState(t *testing.T) {
	signer, err := crypto.GenerateSigner("prop")
	if err != nil {
		t.Fatal(err)
	}
	g := newGate(t, oracleAnswer(false, nil))

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("oracle false yields InvalidState", prop.ForAll(
		func(h intent.Hash) bool {
			sig, err := signer.SignIntent(h)
			if err != nil {
				return false
			}
			_, err = g.Decide(context.Background(), gate.Request{
				IntentHash: h.Bytes(), Signature: sig, VerifyingKey: signer.PublicKeyBytes(),
			})
			return gate.ReasonOf(err) == gate.ReasonInvalidState
		},
		genHash(),
	))

	properties.TestingRun(t)
}
