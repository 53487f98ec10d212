package fingerprint

import (
	"bytes"
	"strings"
	"testing"

	"horse.fit/jobdedup/internal/posting"
)

func normalized(title, company, location, description string) posting.Normalized {
	n := posting.NewNormalizer(posting.DefaultVocabulary())
	return n.Normalize(posting.RawPosting{
		Title:       title,
		Company:     company,
		Location:    location,
		Description: description,
	})
}

func TestOfIsDeterministic(t *testing.T) {
	t.Parallel()

	left := Of(normalized("Software Engineering Intern", "Acme Corp", "NYC", "Build things."))
	right := Of(normalized("Software Engineering Intern", "Acme Corp", "NYC", "Build things."))
	if left.BucketKey != right.BucketKey || left.SimHash != right.SimHash || !bytes.Equal(left.ContentHash, right.ContentHash) {
		t.Fatalf("expected identical fingerprints, got %+v and %+v", left, right)
	}
	if len(left.ContentHash) != 32 {
		t.Fatalf("expected sha256 content hash, got %d bytes", len(left.ContentHash))
	}
}

func TestOfIgnoresFormattingNoise(t *testing.T) {
	t.Parallel()

	left := Of(normalized("Software Engineering Intern", "Acme Corp", "NYC", "Build things."))
	right := Of(normalized("  software   engineer INTERN ", "ACME Corporation", "New York City", "build THINGS."))
	if !bytes.Equal(left.ContentHash, right.ContentHash) {
		t.Fatalf("expected formatting variants to share a content hash")
	}
}

func TestBucketKeyByCompany(t *testing.T) {
	t.Parallel()

	acme := Of(normalized("Data Intern", "Acme Corp", "NYC", ""))
	acmeOther := Of(normalized("Security Intern", "Acme, Inc.", "Austin", ""))
	zenith := Of(normalized("Data Intern", "Zenith Inc", "NYC", ""))
	if acme.BucketKey != "c:acme" || acmeOther.BucketKey != acme.BucketKey {
		t.Fatalf("expected acme postings to share bucket, got %q and %q", acme.BucketKey, acmeOther.BucketKey)
	}
	if zenith.BucketKey == acme.BucketKey {
		t.Fatalf("expected distinct company buckets")
	}
}

func TestBucketKeyWithoutCompanyUsesContent(t *testing.T) {
	t.Parallel()

	fp := Of(normalized("Data Intern", "", "", ""))
	if !strings.HasPrefix(fp.BucketKey, "h:") || len(fp.BucketKey) != 18 {
		t.Fatalf("unexpected bucket key %q", fp.BucketKey)
	}
}

func TestSimHashCloseForNearDuplicates(t *testing.T) {
	t.Parallel()

	desc := "Join the platform team to build internal tooling in Go and Postgres for our data pipelines."
	left := Of(normalized("Backend Intern", "Acme", "NYC", desc))
	right := Of(normalized("Backend Intern", "Acme", "NYC", desc+" Apply now."))
	far := Of(normalized("Marketing Coordinator", "Acme", "NYC", "Plan social campaigns and manage events for the brand."))

	near := Distance(left.SimHash, right.SimHash)
	distant := Distance(left.SimHash, far.SimHash)
	if near >= distant {
		t.Fatalf("expected near duplicate distance %d below unrelated distance %d", near, distant)
	}
}

func TestEmptyPostingStillFingerprints(t *testing.T) {
	t.Parallel()

	fp := Of(posting.Normalized{})
	if fp.BucketKey == "" || len(fp.ContentHash) != 32 || fp.SimHash != 0 {
		t.Fatalf("unexpected fingerprint for empty posting: %+v", fp)
	}
}
