package certflow

import (
	"strings"

	"github.com/cuemby/rollout/pkg/fault"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// GetUpgradeFlow plans the certificate rotation from current to target as one to
// three steps. The load list of the last step always equals target.
func GetUpgradeFlow(current, target types.CertificateInformation) ([]types.CertificateClusterUpgradeStep, error) {
	if _, _, changed := HasCertificateChanged(current, target); !changed {
		return nil, fault.Newf(fault.NoCertificateChange, "cluster certificates are unchanged")
	}

	var steps []types.CertificateClusterUpgradeStep
	next, one := TryGetStepOne(current, target)
	if one != nil {
		steps = append(steps, *one)
	}
	if !next {
		return steps, nil
	}

	next, two, err := TryGetStepTwo(current, target, one)
	if err != nil {
		return nil, errors.Trace(err)
	}
	steps = append(steps, *two)
	if !next {
		return steps, nil
	}

	_, three := TryGetStepThree(current, target, two)
	return append(steps, *three), nil
}

// HasCertificateChanged compares the thumbprint sets of current and target and,
// when they match, the common name sets. Common names are identified as
// "name" or "name@issuer" per issuer thumbprint.
func HasCertificateChanged(current, target types.CertificateInformation) (added, removed []string, changed bool) {
	cur, tgt := thumbprints(current), thumbprints(target)
	if cur.Difference(tgt).IsEmpty() && tgt.Difference(cur).IsEmpty() {
		cur, tgt = commonNames(current), commonNames(target)
	}
	added = tgt.Difference(cur).SortedValues()
	removed = cur.Difference(tgt).SortedValues()
	return added, removed, len(added) > 0 || len(removed) > 0
}

// IsSwap reports whether target promotes a certificate across the primary and
// secondary slots, e.g. primary A becoming secondary behind a new primary B.
func IsSwap(current, target *types.CertificateDescription) bool {
	if current == nil || target == nil {
		return false
	}
	curPrimary := types.NormalizeThumbprint(current.Thumbprint)
	curSecondary := types.NormalizeThumbprint(current.ThumbprintSecondary)
	tgtPrimary := types.NormalizeThumbprint(target.Thumbprint)
	tgtSecondary := types.NormalizeThumbprint(target.ThumbprintSecondary)
	if curPrimary == tgtPrimary {
		return false
	}
	return (tgtSecondary != "" && tgtSecondary == curPrimary) ||
		(curSecondary != "" && curSecondary == tgtPrimary)
}

// TryGetStepOne widens trust to the added certificates while nodes keep loading
// the current ones. It returns no step when nothing is added.
func TryGetStepOne(current, target types.CertificateInformation) (bool, *types.CertificateClusterUpgradeStep) {
	if !anyAdded(current, target) {
		return true, nil
	}
	return true, &types.CertificateClusterUpgradeStep{
		ThumbprintWhiteList:        thumbprints(current).Union(thumbprints(target)).SortedValues(),
		ThumbprintLoadList:         current.ClusterCertificate.Clone(),
		ThumbprintFileStoreSvcList: current.ClusterCertificate.Clone(),
		CommonNameWhiteList:        mergeIssuers(current.ClusterCertificateCommonNames.Issuers(), target.ClusterCertificateCommonNames.Issuers()),
		CommonNameLoadList:         current.ClusterCertificateCommonNames.Clone(),
		CommonNameFileStoreSvcList: current.ClusterCertificateCommonNames.Clone(),
	}
}

// TryGetStepTwo switches the load list to target. The white list is inherited
// from previous, or from current when step one was skipped. It asks for step
// three when a certificate is being removed.
func TryGetStepTwo(current, target types.CertificateInformation, previous *types.CertificateClusterUpgradeStep) (bool, *types.CertificateClusterUpgradeStep, error) {
	step := &types.CertificateClusterUpgradeStep{
		ThumbprintLoadList: target.ClusterCertificate.Clone(),
		CommonNameLoadList: target.ClusterCertificateCommonNames.Clone(),
	}
	if previous != nil {
		prev := previous.Clone()
		step.ThumbprintWhiteList = prev.ThumbprintWhiteList
		step.CommonNameWhiteList = prev.CommonNameWhiteList
	} else {
		step.ThumbprintWhiteList = thumbprints(current).SortedValues()
		step.CommonNameWhiteList = mergeIssuers(current.ClusterCertificateCommonNames.Issuers(), nil)
	}

	thumb, cn, err := fileStoreSvcList(current, target)
	if err != nil {
		return false, nil, errors.Trace(err)
	}
	step.ThumbprintFileStoreSvcList = thumb
	step.CommonNameFileStoreSvcList = cn

	return anyRemoved(current, target), step, nil
}

// TryGetStepThree drops every certificate not in target
func TryGetStepThree(current, target types.CertificateInformation, previous *types.CertificateClusterUpgradeStep) (bool, *types.CertificateClusterUpgradeStep) {
	return false, &types.CertificateClusterUpgradeStep{
		ThumbprintWhiteList:        thumbprints(target).SortedValues(),
		ThumbprintLoadList:         target.ClusterCertificate.Clone(),
		ThumbprintFileStoreSvcList: target.ClusterCertificate.Clone(),
		CommonNameWhiteList:        mergeIssuers(target.ClusterCertificateCommonNames.Issuers(), nil),
		CommonNameLoadList:         target.ClusterCertificateCommonNames.Clone(),
		CommonNameFileStoreSvcList: target.ClusterCertificateCommonNames.Clone(),
	}
}

// fileStoreSvcList picks the certificate the file store service authenticates
// with while nodes switch load lists. Nodes on either side of the switch must
// both hold it, so a certificate common to current and target wins.
func fileStoreSvcList(current, target types.CertificateInformation) (*types.CertificateDescription, *types.ServerCertificateCommonNames, error) {
	changed := changedSlots(current, target)
	commonThumb, commonCN := commonCertificate(current, target)
	hasCommon := commonThumb != nil || commonCN != nil
	typeChange := isTypeChange(current, target)

	switch {
	case len(changed) <= 1:
		if hasCommon {
			return commonThumb, commonCN, nil
		}
		return target.ClusterCertificate.Clone(), target.ClusterCertificateCommonNames.Clone(), nil

	case typeChange:
		if hasCommon {
			return commonThumb, commonCN, nil
		}
		thumb, cn := fileStoreSvcListForCertTypeChange(current, target)
		return thumb, cn, nil

	case len(changed) == 2:
		if hasCommon {
			return commonThumb, commonCN, nil
		}
		if changed[0].thumbprint == changed[1].thumbprint {
			return target.ClusterCertificate.Clone(), target.ClusterCertificateCommonNames.Clone(), nil
		}
	}

	return nil, nil, fault.Newf(fault.UnsupportedCertificateChange,
		"cannot replace %d certificate slots at once without a certificate common to both configurations", len(changed))
}

// fileStoreSvcListForCertTypeChange keeps the file store on the certificate type
// the nodes currently load until the final step converges it to target
func fileStoreSvcListForCertTypeChange(current, target types.CertificateInformation) (*types.CertificateDescription, *types.ServerCertificateCommonNames) {
	if len(current.ClusterCertificate.Thumbprints()) > 0 {
		return current.ClusterCertificate.Clone(), nil
	}
	if current.ClusterCertificateCommonNames.Len() > 0 {
		return nil, current.ClusterCertificateCommonNames.Clone()
	}
	return target.ClusterCertificate.Clone(), target.ClusterCertificateCommonNames.Clone()
}

// commonCertificate returns the first target certificate that current also
// holds, thumbprints first
func commonCertificate(current, target types.CertificateInformation) (*types.CertificateDescription, *types.ServerCertificateCommonNames) {
	cur := thumbprints(current)
	for _, t := range target.ClusterCertificate.Thumbprints() {
		if cur.Contains(t) {
			return &types.CertificateDescription{
				Thumbprint:    t,
				X509StoreName: target.ClusterCertificate.X509StoreName,
			}, nil
		}
	}

	issuers := current.ClusterCertificateCommonNames.Issuers()
	if target.ClusterCertificateCommonNames == nil {
		return nil, nil
	}
	for _, cn := range target.ClusterCertificateCommonNames.CommonNames {
		curIssuers, ok := issuers[cn.CertificateCommonName]
		if !ok || cn.CertificateCommonName == "" {
			continue
		}
		tgtIssuers := cn.IssuerThumbprints()
		if (len(curIssuers) == 0 && len(tgtIssuers) == 0) ||
			!set.NewStrings(curIssuers...).Intersection(set.NewStrings(tgtIssuers...)).IsEmpty() {
			return nil, &types.ServerCertificateCommonNames{
				CommonNames:   []types.CertificateCommonNameBase{cn},
				X509StoreName: target.ClusterCertificateCommonNames.X509StoreName,
			}
		}
	}
	return nil, nil
}

type slot struct {
	thumbprint bool
	index      int
}

// changedSlots compares the primary and secondary thumbprints and the first two
// common names position by position
func changedSlots(current, target types.CertificateInformation) []slot {
	var out []slot
	curThumbs := [2]string{}
	tgtThumbs := [2]string{}
	if c := current.ClusterCertificate; c != nil {
		curThumbs = [2]string{types.NormalizeThumbprint(c.Thumbprint), types.NormalizeThumbprint(c.ThumbprintSecondary)}
	}
	if c := target.ClusterCertificate; c != nil {
		tgtThumbs = [2]string{types.NormalizeThumbprint(c.Thumbprint), types.NormalizeThumbprint(c.ThumbprintSecondary)}
	}
	for i := range curThumbs {
		if curThumbs[i] != tgtThumbs[i] {
			out = append(out, slot{thumbprint: true, index: i})
		}
	}

	curCNs, tgtCNs := cnSlots(current), cnSlots(target)
	for i := range curCNs {
		if curCNs[i] != tgtCNs[i] {
			out = append(out, slot{thumbprint: false, index: i})
		}
	}
	return out
}

func cnSlots(info types.CertificateInformation) [2]string {
	var out [2]string
	if info.ClusterCertificateCommonNames == nil {
		return out
	}
	for i, cn := range info.ClusterCertificateCommonNames.CommonNames {
		if i >= len(out) {
			break
		}
		out[i] = cn.CertificateCommonName + "@" + strings.Join(cn.IssuerThumbprints(), ",")
	}
	return out
}

func isTypeChange(current, target types.CertificateInformation) bool {
	curThumb := len(current.ClusterCertificate.Thumbprints()) > 0
	tgtThumb := len(target.ClusterCertificate.Thumbprints()) > 0
	curCN := current.ClusterCertificateCommonNames.Len() > 0
	tgtCN := target.ClusterCertificateCommonNames.Len() > 0
	return curThumb != tgtThumb || curCN != tgtCN
}

func anyAdded(current, target types.CertificateInformation) bool {
	return !thumbprints(target).Difference(thumbprints(current)).IsEmpty() ||
		!commonNames(target).Difference(commonNames(current)).IsEmpty()
}

func anyRemoved(current, target types.CertificateInformation) bool {
	return anyAdded(target, current)
}

func thumbprints(info types.CertificateInformation) set.Strings {
	return set.NewStrings(info.ClusterCertificate.Thumbprints()...)
}

func commonNames(info types.CertificateInformation) set.Strings {
	out := set.NewStrings()
	for name, issuers := range info.ClusterCertificateCommonNames.Issuers() {
		if len(issuers) == 0 {
			out.Add(name)
			continue
		}
		for _, issuer := range issuers {
			out.Add(name + "@" + issuer)
		}
	}
	return out
}

// mergeIssuers unions the issuer lists per common name. It returns nil when
// both inputs are empty.
func mergeIssuers(a, b map[string][]string) map[string][]string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	merged := make(map[string]set.Strings, len(a)+len(b))
	for _, m := range []map[string][]string{a, b} {
		for name, issuers := range m {
			if merged[name] == nil {
				merged[name] = set.NewStrings()
			}
			merged[name] = merged[name].Union(set.NewStrings(issuers...))
		}
	}
	out := make(map[string][]string, len(merged))
	for name, issuers := range merged {
		out[name] = issuers.SortedValues()
	}
	return out
}
