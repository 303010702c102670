// Package cluster wraps the Kubernetes API surface cachemachine
// consumes: node listing (including each node's image cache) and the
// one-shot pull job driven as a DaemonSet.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	ctrlzap "sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/lsst-sqre/cachemachine/pkg/logging"
	"github.com/lsst-sqre/cachemachine/pkg/nodecache"
)

const serviceAccountNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"

// ErrJobNotFound reports that the pull job does not exist. It is
// benign: the controller treats it as "job finished or absent."
var ErrJobNotFound = errors.New("pull job not found")

// Client talks to the cluster hosting the nodes to pre-warm.
type Client struct {
	client.Client
	namespace      string
	pullSecretName string
}

// NewClient creates a cluster client. If inCluster is true the
// in-cluster config is used, otherwise kubeconfigPath. The namespace
// hosts the pull-job DaemonSets; pullSecretName, when non-empty, names
// the image pull secret attached to them.
func NewClient(inCluster bool, kubeconfigPath, namespace, pullSecretName string) (*Client, error) {
	// Set up controller-runtime logger
	log.SetLogger(ctrlzap.New(ctrlzap.UseDevMode(false)))

	var config *rest.Config
	var err error

	if inCluster {
		config, err = rest.InClusterConfig()
		if err != nil {
			logging.Logger.Error("Failed to get in-cluster config", zap.Error(err))
			return nil, fmt.Errorf("failed to get in-cluster config: %w", err)
		}
	} else {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
		if err != nil {
			logging.Logger.Error("Failed to build config from kubeconfig",
				zap.String("kubeconfig", kubeconfigPath),
				zap.Error(err))
			return nil, fmt.Errorf("failed to build config from kubeconfig: %w", err)
		}
	}

	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		logging.Logger.Error("Failed to add client-go scheme", zap.Error(err))
		return nil, fmt.Errorf("failed to add client-go scheme: %w", err)
	}

	k8sClient, err := client.New(config, client.Options{Scheme: scheme})
	if err != nil {
		logging.Logger.Error("Failed to create client", zap.Error(err))
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	if namespace == "" {
		namespace, err = detectNamespace()
		if err != nil {
			return nil, err
		}
	}

	return &Client{
		Client:         k8sClient,
		namespace:      namespace,
		pullSecretName: pullSecretName,
	}, nil
}

// detectNamespace finds the namespace we run in, from POD_NAMESPACE or
// the mounted service account.
func detectNamespace() (string, error) {
	if ns := os.Getenv("POD_NAMESPACE"); ns != "" {
		return ns, nil
	}
	data, err := os.ReadFile(serviceAccountNamespaceFile)
	if err != nil {
		return "", fmt.Errorf("failed to determine namespace: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ListNodes lists every node with its labels and raw image name
// groups, as reported by the container runtime.
func (c *Client) ListNodes(ctx context.Context) ([]nodecache.Node, error) {
	nodeList := &corev1.NodeList{}
	if err := c.List(ctx, nodeList); err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	nodes := make([]nodecache.Node, 0, len(nodeList.Items))
	for _, n := range nodeList.Items {
		groups := make([][]string, 0, len(n.Status.Images))
		for _, img := range n.Status.Images {
			groups = append(groups, img.Names)
		}
		nodes = append(nodes, nodecache.Node{
			Name:          n.Name,
			Labels:        n.Labels,
			ImageGroups:   groups,
			Unschedulable: nodeUnschedulable(&n),
		})
	}
	return nodes, nil
}

// nodeUnschedulable reports whether pull pods cannot land on the node:
// it is cordoned or carries a NoSchedule/NoExecute taint.
func nodeUnschedulable(n *corev1.Node) bool {
	if n.Spec.Unschedulable {
		return true
	}
	for _, t := range n.Spec.Taints {
		if t.Effect == corev1.TaintEffectNoSchedule || t.Effect == corev1.TaintEffectNoExecute {
			return true
		}
	}
	return false
}

// CreatePullJob creates the DaemonSet that forces imageURL onto every
// node matching selector. The container blocks instead of exiting: a
// DaemonSet's restart policy is always Always, so a container that
// exits cleanly would just be restarted. The sleep is long enough for
// the controller to observe the pull completing and delete the job
// first.
func (c *Client) CreatePullJob(ctx context.Context, name, imageURL string, selector nodecache.Selector) error {
	logging.Logger.Info("Creating pull job",
		zap.String("name", name),
		zap.String("image", imageURL),
		zap.String("namespace", c.namespace))

	container := corev1.Container{
		Name:            "cachemachine",
		Image:           imageURL,
		ImagePullPolicy: corev1.PullAlways,
		Command:         []string{"/bin/sh", "-c", "sleep 1200"},
		SecurityContext: &corev1.SecurityContext{
			AllowPrivilegeEscalation: boolPtr(false),
			Capabilities: &corev1.Capabilities{
				Drop: []corev1.Capability{"ALL"},
			},
			ReadOnlyRootFilesystem: boolPtr(true),
		},
	}

	var pullSecrets []corev1.LocalObjectReference
	if c.pullSecretName != "" {
		pullSecrets = append(pullSecrets, corev1.LocalObjectReference{Name: c.pullSecretName})
	}

	// The app label ties the pods to this particular pull job, so
	// concurrent machines never collide.
	podLabels := map[string]string{
		"app":          name,
		"cachemachine": "pull",
	}

	ds := &appsv1.DaemonSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: c.namespace,
			Labels:    podLabels,
		},
		Spec: appsv1.DaemonSetSpec{
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{"app": name},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: podLabels,
				},
				Spec: corev1.PodSpec{
					AutomountServiceAccountToken: boolPtr(false),
					Containers:                   []corev1.Container{container},
					ImagePullSecrets:             pullSecrets,
					NodeSelector:                 selector,
					SecurityContext: &corev1.PodSecurityContext{
						RunAsNonRoot: boolPtr(true),
						RunAsGroup:   int64Ptr(1000),
						RunAsUser:    int64Ptr(1000),
					},
				},
			},
		},
	}

	if err := c.Create(ctx, ds); err != nil {
		return fmt.Errorf("failed to create pull job %s: %w", name, err)
	}
	return nil
}

// PullJobFinished reports whether the pull job has pulled the image on
// every selected node. Returns ErrJobNotFound if the job does not
// exist.
func (c *Client) PullJobFinished(ctx context.Context, name string) (bool, error) {
	ds := &appsv1.DaemonSet{}
	err := c.Get(ctx, client.ObjectKey{Namespace: c.namespace, Name: name}, ds)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, ErrJobNotFound
		}
		return false, fmt.Errorf("failed to get pull job %s: %w", name, err)
	}

	desired := ds.Status.DesiredNumberScheduled
	available := ds.Status.NumberAvailable
	logging.Logger.Debug("Pull job status",
		zap.String("name", name),
		zap.Int32("desired", desired),
		zap.Int32("available", available))

	return desired == available, nil
}

// DeletePullJob deletes the pull job. Deleting an absent job is not an
// error.
func (c *Client) DeletePullJob(ctx context.Context, name string) error {
	logging.Logger.Info("Deleting pull job", zap.String("name", name))
	ds := &appsv1.DaemonSet{}
	ds.Namespace = c.namespace
	ds.Name = name
	if err := c.Delete(ctx, ds); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete pull job %s: %w", name, err)
	}
	return nil
}

func boolPtr(b bool) *bool    { return &b }
func int64Ptr(n int64) *int64 { return &n }
