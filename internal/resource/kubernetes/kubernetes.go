// Package kubernetes implements resource.Client against the Kubernetes pod
// API using a client-go clientset.
package kubernetes

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/rucat-project/rucat/internal/apierr"
	"github.com/rucat-project/rucat/internal/engine"
	"github.com/rucat-project/rucat/internal/resource"
	"github.com/rucat-project/rucat/internal/resource/kubernetes/driver"
)

const podNamePrefix = "rucat-engine-"

// Client implements resource.Client against a single namespace of one
// Kubernetes cluster.
type Client struct {
	clientset kubernetes.Interface
	namespace string
}

// New wraps an already-configured clientset.
func New(clientset kubernetes.Interface, namespace string) *Client {
	return &Client{clientset: clientset, namespace: namespace}
}

// NewClient builds a clientset from restConfig and wraps it, for callers
// that only have a *rest.Config (e.g. cmd/rucat-monitor).
func NewClient(restConfig *rest.Config, namespace string) (*Client, error) {
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("build kubernetes clientset: %w", err)
	}
	return New(clientset, namespace), nil
}

var _ resource.Client = (*Client)(nil)

// PodName deterministically derives a DNS-1123-safe pod name from an engine
// id, so retried Create/Delete calls always target the same object.
func PodName(engineID string) string {
	return podNamePrefix + engineID
}

func (c *Client) Create(ctx context.Context, engineID string, engineType engine.Type, version string, configs map[string]string) error {
	d, ok := driver.For(engineType)
	if !ok {
		return apierr.ResourceError("no driver registered for engine type "+string(engineType), nil)
	}
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      PodName(engineID),
			Namespace: c.namespace,
			Labels: map[string]string{
				"app.kubernetes.io/managed-by": "rucat",
				"rucat.io/engine-id":           engineID,
			},
		},
		Spec: d.PodSpec(version, configs),
	}
	_, err := c.clientset.CoreV1().Pods(c.namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return apierr.ResourceError("create pod", err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, engineID string) error {
	err := c.clientset.CoreV1().Pods(c.namespace).Delete(ctx, PodName(engineID), metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return apierr.ResourceError("delete pod", err)
	}
	return nil
}

func (c *Client) Status(ctx context.Context, engineID string) (resource.Status, string, error) {
	pod, err := c.clientset.CoreV1().Pods(c.namespace).Get(ctx, PodName(engineID), metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return resource.NotFound, "", nil
	}
	if err != nil {
		return resource.Failed, "", apierr.ResourceError("get pod status", err)
	}
	switch pod.Status.Phase {
	case corev1.PodPending:
		return resource.Pending, "", nil
	case corev1.PodRunning:
		return resource.Running, "", nil
	case corev1.PodFailed, corev1.PodUnknown:
		return resource.Failed, fmt.Sprintf("pod phase %s: %s", pod.Status.Phase, pod.Status.Reason), nil
	default:
		return resource.Pending, "", nil
	}
}
