// Package nodeinfo publishes the SMU facts of a host as annotations on its
// Kubernetes Node.
package nodeinfo

import (
	"context"
	"fmt"
	"strconv"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/cluster-power-manager/amd-smu/pkg/smu"
)

const (
	annotationPrefix = "smu.amd.com/"

	CodenameAnnotation         = annotationPrefix + "codename"
	FirmwareVersionAnnotation  = annotationPrefix + "firmware-version"
	InterfaceVersionAnnotation = annotationPrefix + "mp1-interface-version"
	PMTableVersionAnnotation   = annotationPrefix + "pm-table-version"
	PMTableSizeAnnotation      = annotationPrefix + "pm-table-size"
)

// Info is what gets published for one node. Empty fields are not
// published.
type Info struct {
	Codename         string
	FirmwareVersion  string
	InterfaceVersion string
	PMTableVersion   string
	PMTableSize      string
}

// Collect gathers the facts of an initialized instance. Facts the
// processor cannot report are left empty.
func Collect(s smu.SMU) (Info, error) {
	info := Info{
		Codename:         s.CodenameString(),
		InterfaceVersion: s.InterfaceVersion().String(),
	}
	version, err := s.FirmwareVersion()
	if err != nil {
		return info, fmt.Errorf("failed to read firmware version: %w", err)
	}
	info.FirmwareVersion = version

	if v, err := s.PMTableVersion(); err == nil {
		info.PMTableVersion = fmt.Sprintf("0x%06X", v)
	}
	if size, err := s.PMTableSize(); err == nil {
		info.PMTableSize = strconv.Itoa(size)
	}
	return info, nil
}

// Annotations returns the non-empty facts keyed by annotation name.
func (i Info) Annotations() map[string]string {
	annotations := map[string]string{}
	for key, value := range map[string]string{
		CodenameAnnotation:         i.Codename,
		FirmwareVersionAnnotation:  i.FirmwareVersion,
		InterfaceVersionAnnotation: i.InterfaceVersion,
		PMTableVersionAnnotation:   i.PMTableVersion,
		PMTableSizeAnnotation:      i.PMTableSize,
	} {
		if value != "" {
			annotations[key] = value
		}
	}
	return annotations
}

type Publisher struct {
	client kubernetes.Interface
}

func NewPublisher(client kubernetes.Interface) *Publisher {
	return &Publisher{client: client}
}

// Publish merges the annotations of info into the node. It reports whether
// the node had to be updated.
func (p *Publisher) Publish(ctx context.Context, nodeName string, info Info) (bool, error) {
	logger := log.FromContext(ctx).WithValues("node", nodeName)
	wanted := info.Annotations()
	updated := false

	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		node, err := p.client.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
		if err != nil {
			return err
		}
		if node.Annotations == nil {
			node.Annotations = map[string]string{}
		}
		changed := false
		for key, value := range wanted {
			if node.Annotations[key] != value {
				node.Annotations[key] = value
				changed = true
			}
		}
		if !changed {
			logger.V(1).Info("annotations up to date")
			return nil
		}
		if _, err := p.client.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{}); err != nil {
			return err
		}
		updated = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to annotate node %s: %w", nodeName, err)
	}
	if updated {
		logger.Info("published SMU annotations", "codename", info.Codename, "firmware", info.FirmwareVersion)
	}
	return updated, nil
}
