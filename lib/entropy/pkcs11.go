// OSIA UIN Generator
// Copyright (C) 2026 Tunji Durodola
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package entropy

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/ThalesIgnite/crypto11"
	"github.com/gravitational/trace"
	"github.com/miekg/pkcs11"
)

// hsmFamily describes one supported HSM product line. All families speak
// PKCS#11 and differ only in where their module ships and what FIPS level
// the device is validated to.
type hsmFamily struct {
	name        string
	description string
	modulePaths []string
	fipsLevel   int
	// hardware is false for software tokens such as SoftHSM that
	// advertise CKF_RNG without a physical TRNG behind it.
	hardware bool
}

// hsmFamilies is the builtin probe order, most trusted device first.
var hsmFamilies = []hsmFamily{
	{
		name:        ProviderUtimaco,
		description: "Utimaco CryptoServer",
		modulePaths: []string{
			"/opt/utimaco/lib/libcs_pkcs11_R3.so",
			"/opt/utimaco/lib/libcs_pkcs11_R2.so",
			"/usr/lib/libcs_pkcs11_R2.so",
		},
		fipsLevel: 3,
		hardware:  true,
	},
	{
		name:        ProviderThales,
		description: "Thales Luna",
		modulePaths: []string{
			"/usr/safenet/lunaclient/lib/libCryptoki2_64.so",
			"/usr/lib/libCryptoki2_64.so",
		},
		fipsLevel: 3,
		hardware:  true,
	},
	{
		name:        ProviderSafeNet,
		description: "SafeNet ProtectServer",
		modulePaths: []string{
			"/opt/safenet/protecttoolkit7/ptk/lib/libcryptoki.so",
			"/opt/safenet/protecttoolkit5/ptk/lib/libcryptoki.so",
		},
		fipsLevel: 3,
		hardware:  true,
	},
	{
		name:        ProviderNCipher,
		description: "Entrust nShield",
		modulePaths: []string{
			"/opt/nfast/toolkits/pkcs11/libcknfast.so",
		},
		fipsLevel: 3,
		hardware:  true,
	},
	{
		name:        ProviderAWSCloudHSM,
		description: "AWS CloudHSM",
		modulePaths: []string{
			"/opt/cloudhsm/lib/libcloudhsm_pkcs11.so",
		},
		fipsLevel: 3,
		hardware:  true,
	},
	{
		name:        ProviderAzureHSM,
		description: "Azure Dedicated HSM",
		modulePaths: []string{
			"/usr/safenet/lunaclient/lib/libCryptoki2_64.so",
		},
		fipsLevel: 3,
		hardware:  true,
	},
	{
		name:        ProviderYubiHSM,
		description: "YubiHSM 2",
		modulePaths: []string{
			"/usr/lib/x86_64-linux-gnu/pkcs11/yubihsm_pkcs11.so",
			"/usr/local/lib/pkcs11/yubihsm_pkcs11.so",
		},
		fipsLevel: 2,
		hardware:  true,
	},
	{
		name:        ProviderSoftHSM,
		description: "SoftHSM v2",
		modulePaths: []string{
			"/usr/lib/softhsm/libsofthsm2.so",
			"/usr/lib/x86_64-linux-gnu/softhsm/libsofthsm2.so",
			"/usr/local/lib/softhsm/libsofthsm2.so",
		},
		fipsLevel: 0,
		hardware:  false,
	},
}

func familyByName(name string) (hsmFamily, bool) {
	for _, fam := range hsmFamilies {
		if fam.name == name {
			return fam, true
		}
	}
	return hsmFamily{}, false
}

// pkcs11Provider serves random bytes from one PKCS#11 token. Access to
// the token session is serialized; PKCS#11 drivers are not assumed to be
// thread-safe.
type pkcs11Provider struct {
	family     hsmFamily
	path       string
	slotNumber *int
	tokenLabel string
	pin        string
	logger     *slog.Logger

	mu     sync.Mutex
	ctx    *crypto11.Context
	reader io.Reader
	ready  bool
}

func newPKCS11Provider(family hsmFamily, cfg Config) (*pkcs11Provider, error) {
	path := cfg.ModulePath
	if path == "" {
		for _, candidate := range family.modulePaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		return nil, trace.NotFound("no PKCS#11 module found for %v", family.name)
	}
	return &pkcs11Provider{
		family:     family,
		path:       path,
		slotNumber: cfg.SlotNumber,
		tokenLabel: cfg.TokenLabel,
		pin:        cfg.Pin,
		logger:     cfg.Logger,
	}, nil
}

// Initialize probes the token for a hardware RNG and opens the crypto11
// session used for reads.
func (p *pkcs11Provider) Initialize(ctx context.Context) error {
	slot, hasRNG, err := probeToken(p.path, p.slotNumber, p.tokenLabel)
	if err != nil {
		return trace.Wrap(err)
	}
	if !hasRNG {
		return trace.NotFound("PKCS#11 token for %v reports no hardware RNG", p.family.name)
	}
	slotNumber := p.slotNumber
	if slotNumber == nil && p.tokenLabel == "" {
		probed := int(slot)
		slotNumber = &probed
	}
	cryptoCtx, err := crypto11.Configure(&crypto11.Config{
		Path:       p.path,
		TokenLabel: p.tokenLabel,
		SlotNumber: slotNumber,
		Pin:        p.pin,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	reader, err := cryptoCtx.NewRandomReader()
	if err != nil {
		cryptoCtx.Close()
		return trace.Wrap(err)
	}
	p.ctx = cryptoCtx
	p.reader = reader
	p.ready = true
	p.logger.InfoContext(ctx, "Initialized hardware entropy provider",
		"provider", p.family.name, "module", p.path, "slot", slot)
	return nil
}

// probeToken loads the module standalone, finds the matching token and
// reports its slot and whether it advertises CKF_RNG. The module is fully
// finalized afterwards so that crypto11 can initialize it again.
func probeToken(path string, slotNumber *int, tokenLabel string) (uint, bool, error) {
	module := pkcs11.New(path)
	if module == nil {
		return 0, false, trace.NotFound("PKCS#11 module %v could not be loaded", path)
	}
	defer module.Destroy()
	if err := module.Initialize(); err != nil {
		return 0, false, trace.Wrap(err)
	}
	defer module.Finalize()

	slots, err := module.GetSlotList(true)
	if err != nil {
		return 0, false, trace.Wrap(err)
	}
	for _, slot := range slots {
		if slotNumber != nil && slot != uint(*slotNumber) {
			continue
		}
		info, err := module.GetTokenInfo(slot)
		if err != nil {
			continue
		}
		if tokenLabel != "" && strings.TrimRight(info.Label, " ") != tokenLabel {
			continue
		}
		return slot, info.Flags&pkcs11.CKF_RNG != 0, nil
	}
	return 0, false, trace.NotFound("no matching PKCS#11 token in %v", path)
}

// RandomBytes reads n bytes from the token RNG. The read itself cannot be
// interrupted, so it runs on its own goroutine and the call returns early
// when the context expires.
func (p *pkcs11Provider) RandomBytes(ctx context.Context, n int) ([]byte, error) {
	if !p.ready {
		return nil, trace.BadParameter("entropy provider %v is not initialized", p.family.name)
	}
	type readResult struct {
		buf []byte
		err error
	}
	resultC := make(chan readResult, 1)
	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		buf := make([]byte, n)
		_, err := io.ReadFull(p.reader, buf)
		resultC <- readResult{buf: buf, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, trace.ConnectionProblem(ctx.Err(), "timed out reading entropy from %v", p.family.name)
	case res := <-resultC:
		if res.err != nil {
			return nil, trace.Wrap(res.err)
		}
		return res.buf, nil
	}
}

func (p *pkcs11Provider) Status() Status {
	return Status{
		Name:      p.family.name,
		Hardware:  p.family.hardware,
		FIPSLevel: p.family.fipsLevel,
		Ready:     p.ready,
	}
}

func (p *pkcs11Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		return nil
	}
	err := p.ctx.Close()
	p.ctx = nil
	p.ready = false
	return trace.Wrap(err)
}
