/*
Package vrf wraps a verifiable random function behind small Signer and
Verifier interfaces.

The contract consumed by the rest of the system:
  - proving is deterministic: one (key, message) pair has exactly one valid
    (proof, output);
  - anyone holding the public key can verify a proof and recovers the same
    output the prover derived;
  - outputs are uniform in [0, MaxOutput).

The production scheme is ECVRF-SECP256K1-SHA256-TAI. Its hash output is
reduced to the numeric range by taking the first 4 bytes big-endian:
truncating a uniform hash is itself uniform, unlike a modulo reduction,
which would skew win probabilities. MaxOutput is kept in a uint64 so that a
threshold equal to MaxOutput (always win) is representable.
*/
package vrf
